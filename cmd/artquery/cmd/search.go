package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/artsearch/internal/app"
	"github.com/kailas-cloud/artsearch/internal/config"
	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/query"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/artsearch/internal/logger"
	searchuc "github.com/kailas-cloud/artsearch/internal/usecase/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	k       int
	weight  float64
	llm     string
	verbose bool
	format  string // "text", "json"
}

type retriever interface {
	Retrieve(ctx context.Context, p query.Params) searchuc.Response
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Retrieve artworks matching a question",
		Long: `Retrieve artworks by image similarity, description similarity or a blend.

--weight 0 searches images only, 1 searches descriptions only and anything
in between fuses both. --llm asks a judge to drop irrelevant results.

Examples:
  artquery search "a storm at sea"
  artquery search "portrait of a woman with a pearl" --k 5 --weight 0.5
  artquery search "a red boat" --llm gpt-5 --verbose`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logpkg.NewLogger(root.env, root.logLevel)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			stack, err := app.Build(cmd.Context(), &cfg, logger)
			if err != nil {
				return fmt.Errorf("build retrieval stack: %w", err)
			}
			defer stack.Close()

			ctx := logpkg.ContextWithLogger(cmd.Context(), logger)
			return runSearch(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), stack.Search, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "k", "k", query.DefaultK, "Number of results")
	cmd.Flags().Float64VarP(&opts.weight, "weight", "w", 0, "Description weight in [0, 1]")
	cmd.Flags().StringVar(&opts.llm, "llm", "", "Judge used to refine results (empty disables refinement)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print scores, titles, supporting hits, mode and token usage")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

type jsonOutput struct {
	Response   []string   `json:"response"`
	Scores     []float64  `json:"scores,omitempty"`
	Items      []jsonItem `json:"items,omitempty"`
	Mode       string     `json:"mode,omitempty"`
	Refinement string     `json:"refinement,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// jsonItem is one ranked artwork with the hits that placed it there.
type jsonItem struct {
	ID      string    `json:"id"`
	Score   float64   `json:"score"`
	Title   string    `json:"title,omitempty"`
	Support []jsonHit `json:"support,omitempty"`
}

type jsonHit struct {
	Modality    string  `json:"modality"`
	Score       float64 `json:"score"`
	Title       string  `json:"title,omitempty"`
	SectionText string  `json:"section_text,omitempty"`
}

// sectionWidth bounds the description excerpt printed per hit.
const sectionWidth = 72

func runSearch(
	ctx context.Context, out, errOut io.Writer, r retriever, question string, opts searchOptions,
) error {
	ctx, usage := domain.NewContextWithUsage(ctx)
	resp := r.Retrieve(ctx, query.Params{
		Question:        question,
		K:               opts.k,
		Weight:          opts.weight,
		RefinementModel: opts.llm,
	})

	switch opts.format {
	case "json":
		o := jsonOutput{Response: resp.Result, Mode: string(resp.Mode), Refinement: string(resp.Refinement)}
		if opts.verbose {
			o.Scores = resp.Scores
			o.Items = items(resp.Ranked)
		}
		switch {
		case resp.Err != nil:
			o.Error = resp.Err.Error()
		case resp.RefinementErr != nil:
			o.Error = resp.RefinementErr.Error()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(o); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	case "text", "":
		if err := writeText(out, &resp, opts.verbose); err != nil {
			return err
		}
		if opts.verbose {
			embTokens, _ := usage.Embedding()
			judgeTokens, _ := usage.Judge()
			_, _ = fmt.Fprintf(out, "\nmode=%s refinement=%s judge=%s embedding_tokens=%d judge_tokens=%d cached=%v\n",
				resp.Mode, orDash(string(resp.Refinement)), orDash(resp.Judge), embTokens, judgeTokens, resp.Cached)
		}
		if resp.RefinementErr != nil {
			_, _ = fmt.Fprintf(errOut, "warning: results are unrefined: %v\n", resp.RefinementErr)
		}
	default:
		return fmt.Errorf("unknown format %q (want text or json)", opts.format)
	}

	if resp.Err != nil {
		return fmt.Errorf("retrieval failed: %w", resp.Err)
	}
	return nil
}

func writeText(out io.Writer, resp *searchuc.Response, verbose bool) error {
	for i, id := range resp.Result {
		if !verbose || i >= len(resp.Scores) {
			if _, err := fmt.Fprintln(out, id); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			continue
		}
		title := ""
		if i < len(resp.Ranked) {
			title = firstTitle(&resp.Ranked[i])
		}
		if _, err := fmt.Fprintf(out, "%2d. %-60s %.4f  %s\n", i+1, id, resp.Scores[i], title); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if i >= len(resp.Ranked) {
			continue
		}
		for _, c := range resp.Ranked[i].Support() {
			for _, h := range c.Hits() {
				_, _ = fmt.Fprintf(out, "      [%s] %.4f %s\n", c.Modality(), h.Score(), excerpt(h.SectionText()))
			}
		}
	}
	return nil
}

func items(ranked []result.Ranked) []jsonItem {
	out := make([]jsonItem, len(ranked))
	for i := range ranked {
		r := &ranked[i]
		out[i] = jsonItem{ID: r.ID(), Score: r.Score(), Title: firstTitle(r)}
		for _, c := range r.Support() {
			for _, h := range c.Hits() {
				out[i].Support = append(out[i].Support, jsonHit{
					Modality:    string(c.Modality()),
					Score:       h.Score(),
					Title:       h.Title(),
					SectionText: h.SectionText(),
				})
			}
		}
	}
	return out
}

func firstTitle(r *result.Ranked) string {
	for _, c := range r.Support() {
		for _, h := range c.Hits() {
			if h.Title() != "" {
				return h.Title()
			}
		}
	}
	return ""
}

// excerpt flattens s to one line of at most sectionWidth runes.
func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	if r := []rune(s); len(r) > sectionWidth {
		return string(r[:sectionWidth-3]) + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
