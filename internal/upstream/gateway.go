package upstream

import (
	"context"
	"fmt"

	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/video"
)

// Gateway is the single entry point the orchestrator uses for both upstream
// services.
type Gateway struct {
	summaries     *Client
	completion    completion.Provider
	summaryLength int
	questionCount int
}

// GatewayConfig holds the request sizes sent to the summarization service.
type GatewayConfig struct {
	SummaryLength int
	QuestionCount int
}

// NewGateway wires a summarization client and a completion provider.
func NewGateway(summaries *Client, provider completion.Provider, cfg GatewayConfig) *Gateway {
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = 300
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 10
	}
	return &Gateway{
		summaries:     summaries,
		completion:    provider,
		summaryLength: cfg.SummaryLength,
		questionCount: cfg.QuestionCount,
	}
}

func (g *Gateway) FetchSummary(ctx context.Context, ref video.Reference) (string, error) {
	return g.summaries.FetchSummary(ctx, ref, g.summaryLength)
}

func (g *Gateway) FetchQuestions(ctx context.Context, ref video.Reference) (string, error) {
	return g.summaries.FetchQuestions(ctx, ref, g.questionCount)
}

// CompleteConversation sends msgs to the completion provider and returns the
// single assistant reply.
func (g *Gateway) CompleteConversation(ctx context.Context, msgs []completion.Message) (completion.Message, error) {
	reply, err := g.completion.Complete(ctx, msgs)
	if err != nil {
		return completion.Message{}, fmt.Errorf("completing conversation: %w", err)
	}
	return reply, nil
}
