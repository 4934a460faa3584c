package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/vidsum/internal/apperr"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter talks to any OpenAI-compatible /chat/completions endpoint over
// plain HTTP. It defaults to OpenRouter.
type OpenRouter struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	referer     string
	title       string
}

// NewOpenRouter creates a raw HTTP provider from cfg.
func NewOpenRouter(cfg Config) *OpenRouter {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenRouterURL
	}
	return &OpenRouter{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(base, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.timeout(),
		httpClient:  &http.Client{},
		referer:     "https://github.com/kalambet/vidsum",
		title:       "vidsum",
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouter) Complete(ctx context.Context, msgs []Message) (Message, error) {
	req := chatRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	}
	if c.temperature != 0 {
		t := c.temperature
		req.Temperature = &t
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Message{}, apperr.Timeout(reqCtx, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, apperr.Timeout(reqCtx, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Message{}, &apperr.StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return Message{}, fmt.Errorf("%w: decoding completion: %v", apperr.ErrUpstreamFormat, err)
	}
	return firstChoice(len(cr.Choices), func() Message { return cr.Choices[0].Message })
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}

// firstChoice returns the first choice as an assistant message, or a format
// error when there are none.
func firstChoice(n int, first func() Message) (Message, error) {
	if n == 0 {
		return Message{}, fmt.Errorf("%w: completion has no choices", apperr.ErrUpstreamFormat)
	}
	m := first()
	m.Role = RoleAssistant
	return m, nil
}
