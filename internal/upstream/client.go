// Package upstream talks to the summarization service and bundles it with the
// configured chat-completion provider.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/vidsum/internal/apperr"
	"github.com/kalambet/vidsum/internal/video"
)

const (
	defaultTimeout = 60 * time.Second
	maxBodyBytes   = 8 << 20
)

// Client issues GET requests against a fixed summarization base URL.
type Client struct {
	baseURL    string
	base       *url.URL
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a client for baseURL. A zero timeout uses 60s.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must be http or https, got %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		base:       u,
		timeout:    timeout,
		httpClient: &http.Client{},
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resolve joins relativePath onto the base URL. The result must stay on the
// base URL's scheme and host.
func (c *Client) Resolve(relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("%w: URL parameter is required", apperr.ErrBadRequest)
	}
	full := c.baseURL + relativePath
	u, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL parameter: %v", apperr.ErrBadRequest, err)
	}
	if u.Scheme != c.base.Scheme || u.Host != c.base.Host || u.User != nil {
		return "", fmt.Errorf("%w: invalid URL parameter", apperr.ErrBadRequest)
	}
	return full, nil
}

// GetJSON performs GET {base}{relativePath} and returns the JSON body
// unchanged. The request is cancelled when the timeout elapses.
func (c *Client) GetJSON(ctx context.Context, relativePath string) (json.RawMessage, error) {
	target, err := c.Resolve(relativePath)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Timeout(reqCtx, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Timeout(reqCtx, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", apperr.ErrUpstreamFormat)
	}
	return json.RawMessage(body), nil
}

type messageResponse struct {
	Message *string `json:"message"`
}

// FetchSummary asks the summarization service for a summary of ref of at
// most maxLength words.
func (c *Client) FetchSummary(ctx context.Context, ref video.Reference, maxLength int) (string, error) {
	path := fmt.Sprintf("/summary/?code=%s&count=%d", url.QueryEscape(ref.URL), maxLength)
	msg, err := c.fetchMessage(ctx, path)
	if err != nil {
		return "", fmt.Errorf("fetching summary: %w", err)
	}
	return msg, nil
}

// FetchQuestions asks the summarization service for count quiz questions
// about ref. The returned text may contain HTML.
func (c *Client) FetchQuestions(ctx context.Context, ref video.Reference, count int) (string, error) {
	path := fmt.Sprintf("/question/?code=%s&q=%d", url.QueryEscape(ref.URL), count)
	msg, err := c.fetchMessage(ctx, path)
	if err != nil {
		return "", fmt.Errorf("fetching questions: %w", err)
	}
	return msg, nil
}

func (c *Client) fetchMessage(ctx context.Context, path string) (string, error) {
	raw, err := c.GetJSON(ctx, path)
	if err != nil {
		return "", err
	}
	var mr messageResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUpstreamFormat, err)
	}
	if mr.Message == nil || *mr.Message == "" {
		return "", fmt.Errorf("%w: missing message field", apperr.ErrUpstreamFormat)
	}
	return *mr.Message, nil
}
