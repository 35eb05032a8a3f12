package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRecord marks a scraped item that cannot be turned into a payload.
var ErrInvalidRecord = errors.New("directory: invalid restaurant record")

// Validate checks the fields the API requires.
func (p RestaurantPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	if strings.TrimSpace(p.TripadvisorDetailPage) == "" {
		return fmt.Errorf("%w: %q has no detail page url", ErrInvalidRecord, p.Name)
	}
	if p.CityGeonameID == 0 {
		return fmt.Errorf("%w: %q has no city", ErrInvalidRecord, p.Name)
	}
	return nil
}

// RestaurantFromJSONLD maps a schema.org Restaurant object from a listing
// page onto the API payload. Missing optional fields become empty strings.
func RestaurantFromJSONLD(item map[string]any, cityID int64) RestaurantPayload {
	p := RestaurantPayload{
		Name:                  text(item["name"]),
		TripadvisorDetailPage: text(item["url"]),
		PriceRange:            text(item["priceRange"]),
		Phone:                 text(item["telephone"]),
		ImageURLs:             []string{},
		CityGeonameID:         cityID,
	}
	if rating, ok := item["aggregateRating"].(map[string]any); ok {
		p.Rating = text(rating["ratingValue"])
		p.NumReviews = text(rating["reviewCount"])
	}
	if addr, ok := item["address"].(map[string]any); ok {
		p.AddressString = text(addr["streetAddress"])
		p.PostalCode = text(addr["postalCode"])
		p.City = text(addr["addressLocality"])
		p.Country = countryText(addr["addressCountry"])
	}
	if img := firstImage(item["image"]); img != "" {
		p.ImageURLs = []string{img}
	}
	return p
}

func firstImage(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case []any:
		if len(img) > 0 {
			if s, ok := img[0].(string); ok {
				return s
			}
			if obj, ok := img[0].(map[string]any); ok {
				return text(obj["url"])
			}
		}
	case map[string]any:
		return text(img["url"])
	}
	return ""
}

func countryText(v any) string {
	if obj, ok := v.(map[string]any); ok {
		return text(obj["name"])
	}
	return text(v)
}

// text renders the scalar JSON values the listing pages use for strings.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
