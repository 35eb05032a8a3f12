package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString decodes a JSON string, number or null into a string. The API
// serializes geo ids either way depending on the endpoint.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the underlying value.
func (f FlexString) String() string { return string(f) }

// Country is either a bare code or a nested object, depending on the endpoint.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Country) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode country: %w", err)
		}
		if len(s) == 2 {
			c.Code = strings.ToUpper(s)
		} else {
			c.Name = s
		}
		return nil
	}
	var raw struct {
		Code      string `json:"code"`
		ISO       string `json:"iso"`
		ISO2      string `json:"iso2"`
		Name      string `json:"name"`
		ASCIIName string `json:"name_ascii"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode country: %w", err)
	}
	c.Code = firstNonEmpty(raw.Code, raw.ISO2, raw.ISO)
	c.Name = firstNonEmpty(raw.Name, raw.ASCIIName)
	return nil
}

// Region is the administrative area a city belongs to.
type Region struct {
	Name string `json:"name"`
}

// City is a directory city record.
type City struct {
	GeonameID          int64      `json:"geoname_id"`
	Name               string     `json:"name"`
	TripadvisorGeoID   FlexString `json:"tripadvisor_geo_id"`
	RestaurantsResults *int       `json:"tripadvisor_restaurants_results"`
	RestaurantsURL     string     `json:"tripadvisor_restaurants_url"`
	CountryCode        string     `json:"country_code"`
	Country            Country    `json:"country"`
	Region             *Region    `json:"region"`
	LastScraped        string     `json:"last_scraped"`
}

// Results returns the known result count, 0 when unknown.
func (c City) Results() int {
	if c.RestaurantsResults == nil {
		return 0
	}
	return *c.RestaurantsResults
}

// CountryName prefers the nested country name and falls back to the code.
func (c City) CountryName() string {
	return firstNonEmpty(c.Country.Name, c.Country.Code, c.CountryCode)
}

// SearchString is the free-text query used to look the city up upstream.
func (c City) SearchString() string {
	parts := []string{c.Name}
	if c.Region != nil && strings.TrimSpace(c.Region.Name) != "" {
		parts = append(parts, c.Region.Name)
	}
	if country := c.CountryName(); country != "" {
		parts = append(parts, country)
	}
	return strings.Join(parts, " ")
}

// CityRef is a restaurant's city, serialized as an id or a nested object.
type CityRef struct {
	City
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *CityRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		if err := json.Unmarshal(data, &r.City); err != nil {
			return fmt.Errorf("decode city: %w", err)
		}
		return nil
	}
	var id FlexString
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	n, err := strconv.ParseInt(id.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("decode city id %q: %w", id, err)
	}
	r.GeonameID = n
	return nil
}

// Restaurant is a directory restaurant record.
type Restaurant struct {
	ID                    int64   `json:"id"`
	Name                  string  `json:"name"`
	TripadvisorDetailPage string  `json:"tripadvisor_detail_page"`
	City                  CityRef `json:"city"`
	LastScraped           string  `json:"last_scraped"`
}

// RestaurantPayload is the body accepted by POST /api/restaurants/.
type RestaurantPayload struct {
	Name                  string   `json:"name"`
	TripadvisorDetailPage string   `json:"tripadvisor_detail_page"`
	AddressString         string   `json:"address_string"`
	PostalCode            string   `json:"postal_code"`
	City                  string   `json:"city"`
	Country               string   `json:"country"`
	Rating                string   `json:"rating"`
	NumReviews            string   `json:"num_reviews"`
	PriceRange            string   `json:"price_range"`
	Phone                 string   `json:"phone"`
	ImageURLs             []string `json:"image_urls"`
	CityGeonameID         int64    `json:"city_geoname_id"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
