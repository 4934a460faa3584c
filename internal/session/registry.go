package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/kalambet/vidsum/internal/apperr"
)

// DefaultName is used when a caller does not name a session.
const DefaultName = "default"

var nameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Registry hands out one Store per session name, restoring it from
// persistence on first use.
type Registry struct {
	persist Persistence
	logger  *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(p Persistence, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		persist: p,
		logger:  logger,
		stores:  make(map[string]*Store),
	}
}

// Get returns the session named name, creating and restoring it if needed.
// An empty name selects DefaultName.
func (r *Registry) Get(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		name = DefaultName
	}
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid session id %q", apperr.ErrBadRequest, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	s := NewStore(name, r.persist)
	if err := s.Restore(ctx); err != nil {
		return nil, err
	}
	if ref, _, ok := s.Active(); ok {
		r.logger.Info("session restored", "session", name, "video_ref", ref.URL, "turns", len(s.Turns()))
	}
	r.stores[name] = s
	return s, nil
}
