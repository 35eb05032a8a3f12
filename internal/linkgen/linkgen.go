// Package linkgen turns a city's known result count into the paginated
// listing URLs that cover it.
package linkgen

import (
	"net/url"
	"strconv"
	"strings"
)

// PageSize is the number of restaurants the listing page shows per offset.
const PageSize = 30

// DefaultBaseURL is the listing search endpoint with the establishment and
// rating filters the pipeline always applies. The geo id is appended.
const DefaultBaseURL = "https://www.tripadvisor.com/FindRestaurants"

const filterQuery = "establishmentTypes=10591,11776,12208,16548,16556,9900,9901,9909,21908" +
	"&minimumTravelerRating=TRAVELER_RATING_LOW&broadened=false"

// City carries the two inputs the generator depends on.
type City struct {
	GeoID   string
	Results int
}

// Generator builds listing URLs against BaseURL.
type Generator struct {
	BaseURL string
}

// Default returns a Generator for the public listing endpoint.
func Default() Generator {
	return Generator{BaseURL: DefaultBaseURL}
}

// Generate returns ceil(Results/PageSize) URLs. The first page carries no
// offset parameter and each following page adds PageSize. Cities without a
// geo id or without results yield nothing.
func (g Generator) Generate(c City) []string {
	geo := strings.TrimSpace(c.GeoID)
	if geo == "" || c.Results <= 0 {
		return nil
	}
	pages := (c.Results + PageSize - 1) / PageSize
	first := g.FirstPage(geo)
	out := make([]string, 0, pages)
	out = append(out, first)
	for page := 1; page < pages; page++ {
		out = append(out, first+"&offset="+strconv.Itoa(page*PageSize))
	}
	return out
}

// FirstPage returns the offset-free listing URL for geo.
func (g Generator) FirstPage(geo string) string {
	base := g.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "?geo=" + url.QueryEscape(geo) + "&" + filterQuery
}

// Generate uses the default generator.
func Generate(c City) []string {
	return Default().Generate(c)
}

// Offset extracts the offset query parameter, 0 when absent or invalid.
func Offset(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(u.Query().Get("offset"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// GeoID extracts the geo query parameter.
func GeoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("geo")
}
