// Package qa runs the conversation flow: load a video's summary into a
// session, then answer questions about it through the completion provider.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/vidsum/internal/apperr"
	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/video"
)

// ErrRetryable marks an Ask failure after which the same question can be
// asked again. The failed user turn stays in the history, flagged.
var ErrRetryable = errors.New("retryable")

// Gateway is the upstream surface the orchestrator needs. Implemented by
// upstream.Gateway.
type Gateway interface {
	FetchSummary(ctx context.Context, ref video.Reference) (string, error)
	FetchQuestions(ctx context.Context, ref video.Reference) (string, error)
	CompleteConversation(ctx context.Context, msgs []completion.Message) (completion.Message, error)
}

// Loaded is the result of a successful Load.
type Loaded struct {
	Ref     video.Reference `json:"video_ref"`
	Summary string          `json:"summary"`
}

type Orchestrator struct {
	gw     Gateway
	logger *slog.Logger
}

func New(gw Gateway, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gw: gw, logger: logger}
}

// ContextContent is the ephemeral message that carries the summary next to
// the user's question. It is sent but never stored.
func ContextContent(summary, question string) string {
	return "Video Summary: " + summary + "\n\nUser Question: " + question
}

// Load fetches the summary for rawURL and activates it in store. An invalid
// URL leaves the session untouched.
func (o *Orchestrator) Load(ctx context.Context, store *session.Store, rawURL string) (Loaded, error) {
	ref, err := video.Parse(rawURL)
	if err != nil {
		return Loaded{}, err
	}

	if err := store.Acquire(ctx); err != nil {
		return Loaded{}, err
	}
	defer store.Release()

	summary, err := o.gw.FetchSummary(ctx, ref)
	if err != nil {
		o.logger.Warn("summary fetch failed", "video_ref", ref.URL, "error", err)
		return Loaded{}, err
	}
	if err := store.Activate(ctx, ref, summary); err != nil {
		return Loaded{}, err
	}

	o.logger.Info("video loaded", "session", store.Name(), "video_ref", ref.URL, "summary_len", len(summary))
	return Loaded{Ref: ref, Summary: summary}, nil
}

// Questions fetches quiz questions for rawURL. It does not touch any session.
func (o *Orchestrator) Questions(ctx context.Context, rawURL string) (string, error) {
	ref, err := video.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return o.gw.FetchQuestions(ctx, ref)
}

// Ask appends question to the session, sends the conversation plus the
// summary context to the completion provider and appends the reply.
func (o *Orchestrator) Ask(ctx context.Context, store *session.Store, question string) (session.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return session.Turn{}, fmt.Errorf("%w: question is required", apperr.ErrNoActiveSession)
	}

	if err := store.Acquire(ctx); err != nil {
		return session.Turn{}, err
	}
	defer store.Release()

	ref, summary, ok := store.Active()
	if !ok {
		return session.Turn{}, apperr.ErrNoActiveSession
	}

	userTurn, err := store.AppendUser(ctx, question)
	if err != nil {
		return session.Turn{}, err
	}

	msgs := append(store.Conversation(), completion.Message{
		Role:    completion.RoleSystem,
		Content: ContextContent(summary, question),
	})

	reply, err := o.gw.CompleteConversation(ctx, msgs)
	if err != nil {
		o.logger.Warn("completion failed", "session", store.Name(), "video_ref", ref.URL, "error", err)
		o.markFailed(ctx, store, userTurn)
		return session.Turn{}, fmt.Errorf("%w: %w", ErrRetryable, err)
	}

	turn, err := store.AppendAssistant(ctx, reply)
	if err != nil {
		o.logger.Warn("storing reply failed", "session", store.Name(), "video_ref", ref.URL, "error", err)
		o.markFailed(ctx, store, userTurn)
		return session.Turn{}, fmt.Errorf("%w: storing reply: %w", ErrRetryable, err)
	}
	return turn, nil
}

// markFailed flags an unanswered user turn. It runs even when ctx is
// already cancelled so the turn never goes back out as plain context.
func (o *Orchestrator) markFailed(ctx context.Context, store *session.Store, t session.Turn) {
	if err := store.MarkFailed(context.WithoutCancel(ctx), t.ID); err != nil {
		o.logger.Error("marking turn failed", "turn", t.ID, "error", err)
	}
}

// Reset clears the session's active video and history.
func (o *Orchestrator) Reset(ctx context.Context, store *session.Store) error {
	if err := store.Acquire(ctx); err != nil {
		return err
	}
	defer store.Release()
	return store.Reset(ctx)
}
