// Package completion provides chat-completion backends behind a single
// Provider interface. The backend is selected by name from configuration.
package completion

import (
	"context"
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names accepted by New.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderCompat     = "compat"
)

const defaultTimeout = 60 * time.Second

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider sends an ordered message list and returns exactly one assistant
// message. Implementations do not retry.
type Provider interface {
	Complete(ctx context.Context, msgs []Message) (Message, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64 // 0 leaves the provider default
	Timeout     time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("completion model is required")
	}
	switch cfg.Provider {
	case ProviderOpenRouter:
		return NewOpenRouter(cfg), nil
	case ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case ProviderCompat:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("compat provider requires a base URL")
		}
		return NewCompat(cfg), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
}
