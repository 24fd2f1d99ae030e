package domain

import "context"

// Judge asks a multimodal LLM a question about a set of images.
// The returned text carries no structural guarantee; callers parse it tolerantly.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeResult, error)
}

// Image is a binary image attachment.
type Image struct {
	Name string
	MIME string
	Data []byte
}

// JudgeRequest is a single prompt with attached images and the user's question.
type JudgeRequest struct {
	Prompt   string
	Images   []Image
	Question string
}

// JudgeResult is the raw model answer with token usage.
type JudgeResult struct {
	Text        string
	TotalTokens int
}
