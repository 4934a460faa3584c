package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusErrorIsUnavailable(t *testing.T) {
	var err error = &StatusError{Status: 503}
	wrapped := fmt.Errorf("fetching summary: %w", err)

	if !errors.Is(wrapped, ErrUpstreamUnavailable) {
		t.Fatal("StatusError should match ErrUpstreamUnavailable")
	}

	var se *StatusError
	if !errors.As(wrapped, &se) {
		t.Fatal("errors.As failed for *StatusError")
	}
	if se.Status != 503 {
		t.Errorf("Status = %d, want 503", se.Status)
	}
}

func TestTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := Timeout(ctx, errors.New("read tcp: i/o timeout"))
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Errorf("error = %v, want ErrUpstreamTimeout", err)
	}

	plain := errors.New("connection refused")
	if got := Timeout(context.Background(), plain); got != plain {
		t.Errorf("Timeout on live ctx = %v, want original error", got)
	}

	if Timeout(ctx, nil) != nil {
		t.Error("Timeout(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", ErrBadRequest), http.StatusBadRequest},
		{ErrNoActiveSession, http.StatusConflict},
		{ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{&StatusError{Status: 500}, http.StatusBadGateway},
		{ErrUpstreamFormat, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
