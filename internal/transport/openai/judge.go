package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// JudgeConfig holds the chat model settings for a judge.
type JudgeConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *zap.Logger
}

// Judge asks a vision-capable chat model about a set of images.
// Any OpenAI-compatible endpoint works, Anthropic's included.
type Judge struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewJudge creates a chat completion judge.
func NewJudge(cfg *JudgeConfig) *Judge {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Judge{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Judge sends the prompt, every image as a data URL and then the question, in
// one user message. Errors wrap domain.ErrRefinementUnavailable.
func (j *Judge) Judge(ctx context.Context, req domain.JudgeRequest) (domain.JudgeResult, error) {
	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+2)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: "Question: " + req.Question,
	})

	chatReq := openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	}
	if j.maxTokens > 0 {
		chatReq.MaxCompletionTokens = j.maxTokens
	}

	resp, err := j.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return domain.JudgeResult{}, parseAPIError("judge", err, domain.ErrRefinementUnavailable)
	}
	if len(resp.Choices) == 0 {
		return domain.JudgeResult{}, fmt.Errorf("judge %s returned no choices: %w", j.model, domain.ErrRefinementUnavailable)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	j.logger.Debug("Judge answered",
		zap.String("model", j.model),
		zap.Int("images", len(req.Images)),
		zap.String("answer", text),
	)
	return domain.JudgeResult{Text: text, TotalTokens: resp.Usage.TotalTokens}, nil
}

// HealthCheck verifies API availability via ListModels.
func (j *Judge) HealthCheck(ctx context.Context) error {
	if _, err := j.client.ListModels(ctx); err != nil {
		return parseAPIError("list models", err, domain.ErrRefinementUnavailable)
	}
	return nil
}

func dataURL(img domain.Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}
