package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/kalambet/vidsum/internal/apperr"
)

// Compat targets OpenAI-compatible servers (llama.cpp, vLLM, LM Studio and
// similar) through go-openai.
type Compat struct {
	client *openai.Client
	cfg    Config
}

func NewCompat(cfg Config) *Compat {
	cc := openai.DefaultConfig(cfg.APIKey)
	cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Compat{client: openai.NewClientWithConfig(cc), cfg: cfg}
}

func (p *Compat) Complete(ctx context.Context, msgs []Message) (Message, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(msgs)),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: float32(p.cfg.Temperature),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()

	resp, err := p.client.CreateChatCompletion(reqCtx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return Message{}, &apperr.StatusError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			return Message{}, &apperr.StatusError{Status: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}
		}
		return Message{}, apperr.Timeout(reqCtx, fmt.Errorf("creating chat completion: %w", err))
	}
	return firstChoice(len(resp.Choices), func() Message {
		return Message{Content: resp.Choices[0].Message.Content}
	})
}
