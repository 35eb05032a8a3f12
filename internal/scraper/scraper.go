// Package scraper defines the page-capture contract shared by the Spider SaaS
// backend and the direct Colly backend.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Profile names a capture configuration.
type Profile string

const (
	// ProfileBasic captures markdown content only.
	ProfileBasic Profile = "basic"
	// ProfileLinks adds the page links.
	ProfileLinks Profile = "links"
	// ProfileDetailed adds metadata, headers and embedded structured data.
	ProfileDetailed Profile = "detailed"
	// ProfileRaw captures the raw HTML with full resources.
	ProfileRaw Profile = "raw"
	// ProfileResults captures raw bytes plus structured data, used for result totals.
	ProfileResults Profile = "results"
	// ProfileRestaurant is the detail-page variant of ProfileResults.
	ProfileRestaurant Profile = "restaurant"
)

// ParseProfile validates a profile name.
func ParseProfile(raw string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(raw))); p {
	case ProfileBasic, ProfileLinks, ProfileDetailed, ProfileRaw, ProfileResults, ProfileRestaurant:
		return p, nil
	default:
		return "", fmt.Errorf("unknown capture profile %q", raw)
	}
}

var (
	// ErrRateLimited means the backend or the target site throttled the request.
	ErrRateLimited = errors.New("scraper: rate limited")
	// ErrEmptyResponse means the backend answered without any envelope.
	ErrEmptyResponse = errors.New("scraper: empty response")
)

// Envelope is the normalized result of one capture.
type Envelope struct {
	URL      string
	Status   int
	Content  string
	Title    string
	JSONData map[string]any
	Error    string

	// jsonSize caches the encoded size of JSONData when the backend already
	// had it in serialized form.
	jsonSize int
}

// WithJSONSize records the serialized size of JSONData.
func (e Envelope) WithJSONSize(n int) Envelope {
	e.jsonSize = n
	return e
}

// Size is the payload size used for the minimum-size floor: content bytes
// plus the serialized structured data.
func (e Envelope) Size() int {
	if len(e.JSONData) == 0 {
		return len(e.Content)
	}
	if e.jsonSize > 0 {
		return len(e.Content) + e.jsonSize
	}
	encoded, err := json.Marshal(e.JSONData)
	if err != nil {
		return len(e.Content)
	}
	return len(e.Content) + len(encoded)
}

// HasJSONKey reports whether the structured data carries key.
func (e Envelope) HasJSONKey(key string) bool {
	if e.JSONData == nil {
		return false
	}
	_, ok := e.JSONData[key]
	return ok
}

// Scraper captures a URL with a named profile.
type Scraper interface {
	Scrape(ctx context.Context, url string, profile Profile) (Envelope, error)
}

// Func adapts a function to Scraper.
type Func func(ctx context.Context, url string, profile Profile) (Envelope, error)

// Scrape implements Scraper.
func (f Func) Scrape(ctx context.Context, url string, profile Profile) (Envelope, error) {
	return f(ctx, url, profile)
}
