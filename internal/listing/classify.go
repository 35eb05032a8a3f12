package listing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
)

// Outcome is the classification of one listing capture.
type Outcome string

const (
	OutcomeItems          Outcome = "items"
	OutcomeEmptyConfirmed Outcome = "empty_confirmed"
	OutcomeChallenge      Outcome = "challenge"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeUndersized     Outcome = "undersized"
	OutcomeMarkersMissing Outcome = "markers_missing"
	OutcomeBadStatus      Outcome = "bad_status"
	OutcomeError          Outcome = "error"
)

// Retryable reports whether another attempt at the same URL may help.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeUndersized, OutcomeMarkersMissing, OutcomeBadStatus, OutcomeError:
		return true
	default:
		return false
	}
}

// Suspicious reports whether the outcome belongs in the incident log.
func (o Outcome) Suspicious() bool {
	switch o {
	case OutcomeChallenge, OutcomeRateLimited, OutcomeUndersized, OutcomeMarkersMissing:
		return true
	default:
		return false
	}
}

// DefaultChallengeMarkers are the lowercase substrings that identify a bot
// challenge page.
var DefaultChallengeMarkers = []string{
	"captcha", "recaptcha", "challenge", "verify", "robot",
	"human verification", "security check", "access denied",
}

// DefaultMinBytes is the payload floor below which a capture is not trusted.
const DefaultMinBytes = 10 * 1024

// Verdict is what the classifier concluded about an envelope.
type Verdict struct {
	Outcome Outcome
	Items   []Item
	Reason  string
}

// Classifier turns envelopes into verdicts.
type Classifier struct {
	MinBytes int
	Markers  []string
}

// NewClassifier fills in defaults for zero values.
func NewClassifier(minBytes int, markers []string) Classifier {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	if len(markers) == 0 {
		markers = DefaultChallengeMarkers
	}
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lower = append(lower, m)
		}
	}
	return Classifier{MinBytes: minBytes, Markers: lower}
}

// Classify inspects one envelope. A page that yields list items is accepted
// without looking for challenge markers.
func (c Classifier) Classify(env scraper.Envelope) Verdict {
	if env.Error != "" {
		return Verdict{Outcome: OutcomeError, Reason: env.Error}
	}
	items, hasScripts := ExtractItems(env.JSONData)
	if len(items) > 0 {
		return Verdict{Outcome: OutcomeItems, Items: items}
	}
	if marker, ok := c.challengeMarker(env); ok {
		return Verdict{Outcome: OutcomeChallenge, Reason: "challenge marker " + marker}
	}
	switch {
	case env.Status == http.StatusTooManyRequests:
		return Verdict{Outcome: OutcomeRateLimited, Reason: "status 429"}
	case env.Size() < c.MinBytes:
		return Verdict{Outcome: OutcomeUndersized, Reason: "payload below floor"}
	case env.Status != http.StatusOK:
		return Verdict{Outcome: OutcomeBadStatus, Reason: fmt.Sprintf("status %d", env.Status)}
	case !hasScripts:
		return Verdict{Outcome: OutcomeMarkersMissing, Reason: "no " + ScriptsKey}
	default:
		return Verdict{Outcome: OutcomeEmptyConfirmed}
	}
}

func (c Classifier) challengeMarker(env scraper.Envelope) (string, bool) {
	content := strings.ToLower(env.Content)
	title := strings.ToLower(env.Title)
	for _, m := range c.Markers {
		if strings.Contains(content, m) || strings.Contains(title, m) {
			return m, true
		}
	}
	return "", false
}
