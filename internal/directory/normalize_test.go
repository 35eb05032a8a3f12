package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePageShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantItems int
		wantTotal int
		hasTotal  bool
	}{
		{name: "drf results", body: `{"count": 3, "next": null, "results": [{"geoname_id": 1}, {"geoname_id": 2}]}`, wantItems: 2, wantTotal: 3, hasTotal: true},
		{name: "items envelope", body: `{"items": [{"geoname_id": 1}], "count": 1}`, wantItems: 1, wantTotal: 1, hasTotal: true},
		{name: "data envelope", body: `{"data": [{"id": 1}, {"id": 2}], "total": 9}`, wantItems: 2, wantTotal: 9, hasTotal: true},
		{name: "bare list", body: `[{"id": 1}, {"id": 2}, {"id": 3}]`, wantItems: 3},
		{name: "single object", body: `{"id": 5, "name": "Trattoria"}`, wantItems: 1, wantTotal: 1, hasTotal: true},
		{name: "single city", body: `{"geoname_id": 2759794, "name": "Amsterdam"}`, wantItems: 1, wantTotal: 1, hasTotal: true},
		{name: "unnamed list", body: `{"meta": {"page": 1}, "cities": [{"geoname_id": 1}]}`, wantItems: 1},
		{name: "empty results", body: `{"count": 0, "results": []}`, wantItems: 0, wantTotal: 0, hasTotal: true},
		{name: "null", body: `null`, wantItems: 0},
		{name: "empty body", body: ``, wantItems: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pg, err := normalizePage([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, pg.Items, tt.wantItems)
			assert.Equal(t, tt.hasTotal, pg.HasTotal)
			assert.Equal(t, tt.wantTotal, pg.Total)
		})
	}
}

func TestNormalizePageRejectsScalars(t *testing.T) {
	t.Parallel()

	_, err := normalizePage([]byte(`"oops"`))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = normalizePage([]byte(`{"results": [`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeCities(t *testing.T) {
	t.Parallel()

	body := `{"results": [
		{"geoname_id": 2759794, "name": "Amsterdam", "tripadvisor_geo_id": 188590,
		 "tripadvisor_restaurants_results": 4021, "country": {"name": "Netherlands", "code": "NL"},
		 "region": {"name": "North Holland"}},
		{"geoname_id": 3173435, "name": "Milano", "tripadvisor_geo_id": "187849",
		 "tripadvisor_restaurants_results": null, "country_code": "IT"}
	]}`
	pg, err := normalizePage([]byte(body))
	require.NoError(t, err)
	cities, err := decodeItems[City](pg)
	require.NoError(t, err)
	require.Len(t, cities, 2)

	assert.Equal(t, "188590", cities[0].TripadvisorGeoID.String())
	assert.Equal(t, 4021, cities[0].Results())
	assert.Equal(t, "Netherlands", cities[0].CountryName())
	assert.Equal(t, "Amsterdam North Holland Netherlands", cities[0].SearchString())

	assert.Equal(t, "187849", cities[1].TripadvisorGeoID.String())
	assert.Zero(t, cities[1].Results())
	assert.Equal(t, "IT", cities[1].CountryName())
}

func TestDecodeRestaurantCityRef(t *testing.T) {
	t.Parallel()

	pg, err := normalizePage([]byte(`[
		{"id": 1, "name": "A", "city": 2759794},
		{"id": 2, "name": "B", "city": {"geoname_id": 3173435, "country": {"name": "Italy"}}}
	]`))
	require.NoError(t, err)
	rs, err := decodeItems[Restaurant](pg)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, int64(2759794), rs[0].City.GeonameID)
	assert.Equal(t, int64(3173435), rs[1].City.GeonameID)
	assert.Equal(t, "Italy", rs[1].City.CountryName())
}
