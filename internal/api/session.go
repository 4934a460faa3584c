package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kalambet/vidsum/internal/prefetch"
	"github.com/kalambet/vidsum/internal/session"
)

const maxPrefetchURLs = 50

// SessionView is the JSON shape of a session.
type SessionView struct {
	Session  string         `json:"session"`
	VideoRef string         `json:"video_ref,omitempty"`
	VideoID  string         `json:"video_id,omitempty"`
	Ready    bool           `json:"ready"`
	Turns    []session.Turn `json:"turns"`
}

func sessionFor(deps Deps, r *http.Request) (*session.Store, error) {
	return deps.Sessions.Get(r.Context(), r.Header.Get(SessionHeader))
}

func viewOf(s *session.Store) SessionView {
	ref, _, ok := s.Active()
	return SessionView{
		Session:  s.Name(),
		VideoRef: ref.URL,
		VideoID:  ref.ID,
		Ready:    ok,
		Turns:    s.Turns(),
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFor(deps, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(s))
	}
}

func handleResetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionFor(deps, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if err := deps.Orchestrator.Reset(r.Context(), s); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type loadVideoRequest struct {
	URL string `json:"url"`
}

type loadVideoResponse struct {
	VideoRef string `json:"video_ref"`
	VideoID  string `json:"video_id"`
	WatchURL string `json:"watch_url"`
	Summary  string `json:"summary"`
}

func handleLoadVideo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loadVideoRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := sessionFor(deps, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		loaded, err := deps.Orchestrator.Load(r.Context(), s, req.URL)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, loadVideoResponse{
			VideoRef: loaded.Ref.URL,
			VideoID:  loaded.Ref.ID,
			WatchURL: loaded.Ref.WatchURL(),
			Summary:  loaded.Summary,
		})
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := sessionFor(deps, r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		turn, err := deps.Orchestrator.Ask(r.Context(), s, req.Question)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

func handleQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := deps.Orchestrator.Questions(r.Context(), r.URL.Query().Get("url"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

func handleListSummaries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}
		records, err := deps.Summaries.ListSummaries(r.Context(), limit, offset)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

type prefetchRequest struct {
	URLs []string `json:"urls"`
}

type prefetchResponse struct {
	Queued []queuedJob `json:"queued"`
}

type queuedJob struct {
	URL   string `json:"url"`
	JobID string `json:"job_id"`
}

func handlePrefetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			httpError(w, http.StatusServiceUnavailable, "prefetch is not enabled")
			return
		}
		var req prefetchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.URLs) == 0 {
			httpError(w, http.StatusBadRequest, "urls is required and must not be empty")
			return
		}
		if len(req.URLs) > maxPrefetchURLs {
			httpError(w, http.StatusBadRequest, "too many urls (max "+strconv.Itoa(maxPrefetchURLs)+")")
			return
		}

		resp := prefetchResponse{Queued: make([]queuedJob, 0, len(req.URLs))}
		for _, u := range req.URLs {
			id, err := prefetch.Enqueue(r.Context(), deps.Jobs, u)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			resp.Queued = append(resp.Queued, queuedJob{URL: strings.TrimSpace(u), JobID: id})
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
