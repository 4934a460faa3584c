// Package session holds the per-session conversation state: the active video
// reference, its summary, and the ordered turns exchanged about it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/vidsum/internal/completion"
	"github.com/kalambet/vidsum/internal/video"
)

// ErrTurnNotFound is returned by MarkFailed for an unknown turn id.
var ErrTurnNotFound = errors.New("turn not found")

// Persistence is the key-value port a Store writes through. Implemented by
// storage.Store (SQLite) and storage.RedisStore.
type Persistence interface {
	PutSummary(ctx context.Context, videoRef, summary string) error
	LookupSummary(ctx context.Context, videoRef string) (string, bool, error)
	SaveSnapshot(ctx context.Context, name string, data []byte) error
	LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error)
	DeleteSnapshot(ctx context.Context, name string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Turn is one message in the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Failed    bool      `json:"failed,omitempty"`
}

// snapshot is the persisted form of a session. VideoRef points at the
// summary record the session was activated with.
type snapshot struct {
	VideoRef string `json:"video_ref,omitempty"`
	Turns    []Turn `json:"turns"`
}

// SeedContent returns the system turn that opens every conversation.
func SeedContent(summary string) string {
	return "Video Summary: " + summary + "\n\nPlease answer questions based on this summary."
}

// Store is one conversation session. State changes are written through to
// Persistence before they become visible in memory.
type Store struct {
	name    string
	persist Persistence
	clock   Clock
	exch    *semaphore.Weighted

	mu      sync.RWMutex
	ref     video.Reference
	summary string
	active  bool
	turns   []Turn
}

// NewStore creates an empty session named name.
func NewStore(name string, p Persistence) *Store {
	return NewStoreWithClock(name, p, realClock{})
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(name string, p Persistence, clock Clock) *Store {
	return &Store{
		name:    name,
		persist: p,
		clock:   clock,
		exch:    semaphore.NewWeighted(1),
	}
}

func (s *Store) Name() string { return s.name }

// Acquire blocks until the caller holds the session's exchange slot or ctx
// is done. Callers that mutate the session hold it for the whole exchange.
func (s *Store) Acquire(ctx context.Context) error {
	return s.exch.Acquire(ctx, 1)
}

func (s *Store) Release() {
	s.exch.Release(1)
}

// Activate makes ref the active video, replaces the history with the seed
// turn and persists both the summary record and the snapshot.
func (s *Store) Activate(ctx context.Context, ref video.Reference, summary string) error {
	seed := s.newTurn(completion.RoleSystem, SeedContent(summary))
	turns := []Turn{seed}

	if err := s.persist.PutSummary(ctx, ref.URL, summary); err != nil {
		return fmt.Errorf("storing summary for %s: %w", ref.URL, err)
	}
	if err := s.save(ctx, ref.URL, turns); err != nil {
		return err
	}

	s.mu.Lock()
	s.ref = ref
	s.summary = summary
	s.active = true
	s.turns = turns
	s.mu.Unlock()
	return nil
}

// AppendUser appends a user turn and persists the session.
func (s *Store) AppendUser(ctx context.Context, text string) (Turn, error) {
	return s.append(ctx, s.newTurn(completion.RoleUser, text))
}

// AppendAssistant appends an assistant reply and persists the session.
func (s *Store) AppendAssistant(ctx context.Context, msg completion.Message) (Turn, error) {
	return s.append(ctx, s.newTurn(completion.RoleAssistant, msg.Content))
}

func (s *Store) append(ctx context.Context, t Turn) (Turn, error) {
	s.mu.RLock()
	ref := s.activeRefLocked()
	turns := make([]Turn, len(s.turns), len(s.turns)+1)
	copy(turns, s.turns)
	s.mu.RUnlock()

	turns = append(turns, t)
	if err := s.save(ctx, ref, turns); err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	s.turns = turns
	s.mu.Unlock()
	return t, nil
}

// MarkFailed flags a user turn whose completion did not succeed. Failed
// turns stay in the history but are left out of the completion context.
func (s *Store) MarkFailed(ctx context.Context, turnID string) error {
	s.mu.RLock()
	ref := s.activeRefLocked()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	s.mu.RUnlock()

	idx := -1
	for i := range turns {
		if turns[i].ID == turnID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	turns[idx].Failed = true

	if err := s.save(ctx, ref, turns); err != nil {
		return err
	}

	s.mu.Lock()
	s.turns = turns
	s.mu.Unlock()
	return nil
}

// Reset clears the active video and the history and deletes the snapshot.
// Summary records are kept.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.persist.DeleteSnapshot(ctx, s.name); err != nil {
		return fmt.Errorf("deleting session %s: %w", s.name, err)
	}
	s.mu.Lock()
	s.ref = video.Reference{}
	s.summary = ""
	s.active = false
	s.turns = nil
	s.mu.Unlock()
	return nil
}

// Restore loads the persisted snapshot. When the snapshot's video reference
// still has a summary record the session becomes active for it without a
// re-fetch; otherwise only the turns are restored.
func (s *Store) Restore(ctx context.Context) error {
	data, ok, err := s.persist.LoadSnapshot(ctx, s.name)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", s.name, err)
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding session %s: %w", s.name, err)
	}

	var (
		ref     video.Reference
		summary string
		active  bool
	)
	if snap.VideoRef != "" {
		text, found, err := s.persist.LookupSummary(ctx, snap.VideoRef)
		if err != nil {
			return fmt.Errorf("looking up summary for %s: %w", snap.VideoRef, err)
		}
		if found {
			if parsed, err := video.Parse(snap.VideoRef); err == nil {
				ref, summary, active = parsed, text, true
			}
		}
	}

	s.mu.Lock()
	s.ref = ref
	s.summary = summary
	s.active = active
	s.turns = snap.Turns
	s.mu.Unlock()
	return nil
}

// Active returns the active video reference and its summary.
func (s *Store) Active() (video.Reference, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref, s.summary, s.active
}

// Turns returns a copy of the conversation history.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Conversation returns the non-failed turns as completion messages.
func (s *Store) Conversation() []completion.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]completion.Message, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Failed {
			continue
		}
		msgs = append(msgs, completion.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// Snapshot returns the session in its persisted JSON form.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	snap := snapshot{VideoRef: s.activeRefLocked(), Turns: s.turns}
	s.mu.RUnlock()
	if snap.Turns == nil {
		snap.Turns = []Turn{}
	}
	return json.Marshal(snap)
}

func (s *Store) save(ctx context.Context, ref string, turns []Turn) error {
	data, err := json.Marshal(snapshot{VideoRef: ref, Turns: turns})
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", s.name, err)
	}
	if err := s.persist.SaveSnapshot(ctx, s.name, data); err != nil {
		return fmt.Errorf("saving session %s: %w", s.name, err)
	}
	return nil
}

func (s *Store) activeRefLocked() string {
	if !s.active {
		return ""
	}
	return s.ref.URL
}

func (s *Store) newTurn(role, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: s.clock.Now().UTC(),
	}
}
