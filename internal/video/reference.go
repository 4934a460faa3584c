package video

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/vidsum/internal/apperr"
)

// linkRE accepts youtube.com/watch?v= and youtu.be/ links, with or without
// scheme and www prefix.
var linkRE = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com/watch\?v=|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// ErrInvalidURL is returned when a string is not an accepted video link.
var ErrInvalidURL = fmt.Errorf("%w: not a valid YouTube URL", apperr.ErrBadRequest)

// Reference identifies a single video. URL is the link as submitted and is
// the key under which summaries are stored.
type Reference struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// Parse validates raw against the accepted link shapes.
func Parse(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("%w: video URL is required", apperr.ErrBadRequest)
	}
	m := linkRE.FindStringSubmatch(raw)
	if m == nil {
		return Reference{}, ErrInvalidURL
	}
	return Reference{URL: raw, ID: m[4]}, nil
}

func (r Reference) String() string {
	return r.URL
}

// WatchURL returns the canonical watch page for the video.
func (r Reference) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + r.ID
}
