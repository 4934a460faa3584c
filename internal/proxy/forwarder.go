// Package proxy forwards relative paths to the summarization service and
// normalizes every outcome into a status code plus JSON body.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/vidsum/internal/apperr"
)

const (
	msgMissingURL  = "URL parameter is required"
	msgInvalidURL  = "invalid URL parameter"
	msgTimeout     = "Request timed out"
	msgUpstreamErr = "Failed to fetch data from API"
	msgFetchFailed = "Failed to fetch data"
)

// Getter performs a GET against the upstream base URL.
type Getter interface {
	GetJSON(ctx context.Context, relativePath string) (json.RawMessage, error)
}

// Response is what the caller relays to its client.
type Response struct {
	Status int
	Body   []byte
}

// Forwarder relays requests to the upstream service. It never returns an
// error: failures become an {"error": ...} body with a matching status.
type Forwarder struct {
	upstream Getter
	logger   *slog.Logger
}

func NewForwarder(upstream Getter, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{upstream: upstream, logger: logger}
}

func (f *Forwarder) Forward(ctx context.Context, relativePath string) Response {
	if relativePath == "" {
		return errorResponse(http.StatusBadRequest, msgMissingURL)
	}

	body, err := f.upstream.GetJSON(ctx, relativePath)
	if err == nil {
		return Response{Status: http.StatusOK, Body: body}
	}

	var se *apperr.StatusError
	switch {
	case errors.Is(err, apperr.ErrBadRequest):
		f.logger.Warn("proxy rejected path", "path", relativePath, "error", err)
		return errorResponse(http.StatusBadRequest, msgInvalidURL)
	case errors.Is(err, apperr.ErrUpstreamTimeout):
		f.logger.Warn("proxy upstream timeout", "path", relativePath)
		return errorResponse(http.StatusGatewayTimeout, msgTimeout)
	case errors.As(err, &se):
		f.logger.Warn("proxy upstream error", "path", relativePath, "status", se.Status)
		f.logger.Debug("proxy upstream error body", "path", relativePath, "body", se.Body)
		return errorResponse(se.Status, msgUpstreamErr)
	default:
		f.logger.Error("proxy fetch failed", "path", relativePath, "error", err)
		return errorResponse(http.StatusInternalServerError, msgFetchFailed)
	}
}

// ErrorBody renders the {"error": msg} envelope.
func ErrorBody(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

func errorResponse(status int, msg string) Response {
	return Response{Status: status, Body: ErrorBody(msg)}
}
