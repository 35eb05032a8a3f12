package details

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Status grades how much of a detail page was understood.
type Status string

const (
	// StatusSuccess means the structured block and at least one page field
	// were found.
	StatusSuccess Status = "success"
	// StatusPartial means only one of the two sources produced data.
	StatusPartial Status = "partial"
	// StatusNoData means nothing usable was found.
	StatusNoData Status = "no_data_extracted"
	// StatusFailed is reported when the page could not be rendered.
	StatusFailed Status = "failed"
)

// Details is what a rendered restaurant page yields.
type Details struct {
	Name            string            `json:"name,omitempty"`
	URL             string            `json:"url,omitempty"`
	PriceRange      string            `json:"price_range,omitempty"`
	Images          []string          `json:"images,omitempty"`
	Geo             map[string]any    `json:"geo,omitempty"`
	Address         map[string]any    `json:"address,omitempty"`
	AggregateRating map[string]any    `json:"aggregate_rating,omitempty"`
	Cuisines        []string          `json:"cuisines,omitempty"`
	MealTypes       []string          `json:"meal_types,omitempty"`
	Features        []string          `json:"features,omitempty"`
	SpecialDiets    []string          `json:"special_diets,omitempty"`
	Hours           map[string]string `json:"hours,omitempty"`
	Phone           string            `json:"phone,omitempty"`
	Website         string            `json:"website,omitempty"`
	JSONLD          map[string]any    `json:"jsonld,omitempty"`
	Status          Status            `json:"status"`
}

// HasJSONLD reports whether the FoodEstablishment block was found.
func (d Details) HasJSONLD() bool { return d.JSONLD != nil }

// HasPageFields reports whether any field was read from the page markup.
func (d Details) HasPageFields() bool {
	return len(d.Cuisines) > 0 || len(d.MealTypes) > 0 || len(d.Features) > 0 ||
		len(d.SpecialDiets) > 0 || len(d.Hours) > 0 || d.Phone != "" || d.Website != ""
}

var (
	weekdays   = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	clockTime  = regexp.MustCompile(`\d+:\d+`)
	websiteSel = []string{
		`a[data-automation="restaurantsWebsiteButton"]`,
		`a[data-test-target*="website"]`,
		`a[href^="http"][title*="ebsite"]`,
	}
)

// Extract reads a rendered restaurant page.
func Extract(html string) (Details, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Details{}, fmt.Errorf("parse detail page: %w", err)
	}

	var d Details
	if ld := foodEstablishment(doc); ld != nil {
		d.JSONLD = ld
		d.Name = str(ld["name"])
		d.URL = str(ld["url"])
		d.PriceRange = str(ld["priceRange"])
		d.Images = strs(ld["image"])
		d.Geo = obj(ld["geo"])
		d.Address = obj(ld["address"])
		d.AggregateRating = obj(ld["aggregateRating"])
	}

	d.Cuisines = labelledList(doc, "CUISINES")
	d.MealTypes = labelledList(doc, "Meal types", "MEALS")
	d.Features = labelledList(doc, "FEATURES")
	d.SpecialDiets = labelledList(doc, "Special Diets")
	d.Hours = hours(doc)
	d.Phone = phone(doc)
	d.Website = website(doc)

	switch {
	case d.HasJSONLD() && d.HasPageFields():
		d.Status = StatusSuccess
	case d.HasJSONLD() || d.HasPageFields():
		d.Status = StatusPartial
	default:
		d.Status = StatusNoData
	}
	return d, nil
}

func foodEstablishment(doc *goquery.Document) map[string]any {
	var found map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var block map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &block); err != nil {
			return true
		}
		if isType(block["@type"], "FoodEstablishment", "Restaurant") {
			found = block
			return false
		}
		return true
	})
	return found
}

func isType(v any, want ...string) bool {
	var types []string
	switch t := v.(type) {
	case string:
		types = []string{t}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				types = append(types, s)
			}
		}
	}
	for _, t := range types {
		for _, w := range want {
			if t == w {
				return true
			}
		}
	}
	return false
}

// labelledList finds a div whose text is one of labels and returns the
// comma separated list in a sibling div.
func labelledList(doc *goquery.Document, labels ...string) []string {
	var out []string
	doc.Find("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !matchesLabel(s.Text(), labels) {
			return true
		}
		s.Parent().Find("div").EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			text := strings.TrimSpace(sib.Text())
			if matchesLabel(text, labels) || !strings.Contains(text, ",") {
				return true
			}
			out = splitList(text)
			return len(out) == 0
		})
		return len(out) == 0
	})
	return out
}

func matchesLabel(text string, labels []string) bool {
	text = strings.TrimSpace(text)
	for _, l := range labels {
		if strings.EqualFold(text, l) {
			return true
		}
	}
	return false
}

func splitList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hours(doc *goquery.Document) map[string]string {
	section := doc.Find(`[data-automation="hours-section"]`).First()
	if section.Length() == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, day := range weekdays {
		section.Find("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.Children().Length() > 0 || strings.TrimSpace(s.Text()) != day {
				return true
			}
			text := strings.TrimSpace(s.Parent().Next().Text())
			if looksLikeHours(text) {
				out[day] = text
				return false
			}
			return true
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func looksLikeHours(text string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(text, "AM") || strings.Contains(text, "PM") ||
		strings.Contains(text, "Closed") || clockTime.MatchString(text)
}

func phone(doc *goquery.Document) string {
	href, ok := doc.Find(`a[href^="tel:"]`).First().Attr("href")
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
}

func website(doc *goquery.Document) string {
	for _, sel := range websiteSel {
		var href string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			h, ok := s.Attr("href")
			if ok && h != "" && !strings.Contains(h, "tripadvisor.") {
				href = h
				return false
			}
			return true
		})
		if href != "" {
			return href
		}
	}
	return ""
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func strs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, e := range t {
			if s := str(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
