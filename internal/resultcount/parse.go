// Package resultcount reads the restaurant total off a city's first listing
// page and stores it on the city.
package resultcount

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	numberPattern    = regexp.MustCompile(`\d[\d,]*`)
	resultsPattern   = regexp.MustCompile(`(?i)\d+.*results`)
	noResultsPattern = regexp.MustCompile(`(?i)no.*results|0.*results`)
)

// ParseTotal extracts the listing total from page HTML. The bool is false
// when the page carries no usable total; a page that states it has no
// results parses as (0, true).
func ParseTotal(html string) (int, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}

	if el := doc.Find(`[data-automation="resultsTotal"]`).First(); el.Length() > 0 {
		text := strings.TrimSpace(el.Text())
		if n, ok := firstNumber(text); ok {
			return n, true
		}
		lower := strings.ToLower(text)
		if strings.Contains(lower, "no results") || strings.Contains(lower, "0 results") {
			return 0, true
		}
		return 0, false
	}

	texts := textNodes(doc)
	for _, t := range texts {
		if !resultsPattern.MatchString(t) {
			continue
		}
		if n, ok := firstNumber(t); ok {
			return n, true
		}
	}
	for _, t := range texts {
		if noResultsPattern.MatchString(t) {
			return 0, true
		}
	}
	return 0, false
}

func firstNumber(s string) (int, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

func textNodes(doc *goquery.Document) []string {
	var out []string
	doc.Find("*").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
