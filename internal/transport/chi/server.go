package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/domain"
	"github.com/kailas-cloud/artsearch/internal/domain/query"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/artsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/artsearch/internal/usecase/search"
)

// maxBodyBytes bounds the POST /retrieve body.
const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Retriever answers retrieval queries.
type Retriever interface {
	Retrieve(ctx context.Context, p query.Params) searchuc.Response
}

// HealthReporter aggregates dependency checks.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// Server implements ServerInterface.
type Server struct {
	search        Retriever
	health        HealthReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server.
func NewServer(search Retriever, health HealthReporter, logger *zap.Logger) *Server {
	s := &Server{search: search, health: health, logger: logger}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorResponseCodeRateLimited),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, ErrorResponseCodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusServiceUnavailable, ErrorResponseCodeSearchUnavailable),
	}
	return s
}

// Retrieve handles POST /retrieve. A decodable body always gets 200;
// failures travel in the error field next to whatever ranking exists.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp := s.search.Retrieve(ctx, query.Params{
		Question:        req.Question,
		K:               req.K,
		Weight:          req.Weight,
		RefinementModel: req.LLM,
	})

	setUsageHeaders(w, usage)
	setRetrievalHeaders(w, &resp)

	out := RetrieveResponse{Response: resp.Result}
	switch {
	case resp.Err != nil:
		s.logger.Warn("retrieval error", zap.Error(resp.Err))
		out.Error = publicMessage(resp.Err)
	case resp.RefinementErr != nil:
		out.Error = publicMessage(resp.RefinementErr)
	}
	writeJSON(w, http.StatusOK, out)
}

// Search handles GET /search. Unlike Retrieve it maps failures to status codes.
// A failed refinement is not a failure: the unrefined items come back with 200.
func (s *Server) Search(w http.ResponseWriter, r *http.Request, params SearchParams) {
	p := query.Params{Question: params.Question}
	if params.K != nil {
		p.K = int(looseString(*params.K))
	}
	if params.Weight != nil {
		p.Weight = looseString(*params.Weight)
	}
	if params.LLM != nil {
		p.RefinementModel = *params.LLM
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp := s.search.Retrieve(ctx, p)
	setUsageHeaders(w, usage)
	if resp.Err != nil {
		s.handleDomainError(w, resp.Err)
		return
	}
	setRetrievalHeaders(w, &resp)

	items := make([]SearchResultItem, len(resp.Result))
	for i, id := range resp.Result {
		items[i] = SearchResultItem{ID: id}
		if i < len(resp.Scores) {
			items[i].Score = resp.Scores[i]
		}
		if i < len(resp.Ranked) {
			items[i].Title = title(&resp.Ranked[i])
		}
	}
	out := SearchResponse{
		Items:      items,
		Mode:       string(resp.Mode),
		Judge:      resp.Judge,
		Refinement: string(resp.Refinement),
	}
	if resp.RefinementErr != nil {
		out.Error = publicMessage(resp.RefinementErr)
	}
	writeJSON(w, http.StatusOK, out)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// title returns the first artwork title found among the supporting hits.
func title(r *result.Ranked) string {
	for _, c := range r.Support() {
		for _, h := range c.Hits() {
			if h.Title() != "" {
				return h.Title()
			}
		}
	}
	return ""
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	if tokens, used := usage.Embedding(); used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	}
	if tokens, used := usage.Judge(); used {
		w.Header().Set("X-Judge-Tokens", strconv.Itoa(tokens))
	}
}

func setRetrievalHeaders(w http.ResponseWriter, resp *searchuc.Response) {
	if resp.Mode != "" {
		w.Header().Set("X-Search-Mode", string(resp.Mode))
	}
	if resp.Refinement != "" {
		w.Header().Set("X-Refinement", string(resp.Refinement))
	}
	if resp.Cached {
		w.Header().Set("X-Cache", "hit")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// publicMessage returns a client-safe message. Validation errors are the
// caller's own input and are returned verbatim.
func publicMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidRequest) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrEmbeddingUnavailable,
		domain.ErrSearchUnavailable,
		domain.ErrRateLimited,
		domain.ErrRefinementUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := publicMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}
