package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// page is the normalized form of every list-ish response the API produces.
type page struct {
	Items    []json.RawMessage
	Total    int
	HasTotal bool
	Next     string
}

// listKeys are the envelope keys the API has been observed to wrap lists in.
var listKeys = []string{"results", "items", "data"}

// totalKeys carry the overall match count next to the list.
var totalKeys = []string{"count", "total"}

// normalizePage accepts {results|items|data, count|total}, a bare list, a
// single object, or an object holding exactly one list of objects, and
// returns the contained items.
func normalizePage(body []byte) (page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return page{}, nil
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return page{}, fmt.Errorf("%w: list: %w", ErrDecode, err)
		}
		return page{Items: items}, nil
	case '{':
	default:
		return page{}, fmt.Errorf("%w: unexpected payload starting with %q", ErrDecode, body[0])
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return page{}, fmt.Errorf("%w: object: %w", ErrDecode, err)
	}

	var out page
	for _, key := range totalKeys {
		if raw, ok := obj[key]; ok {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				out.Total, out.HasTotal = n, true
				break
			}
		}
	}
	if raw, ok := obj["next"]; ok {
		_ = json.Unmarshal(raw, &out.Next)
	}

	for _, key := range listKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if items, ok := asObjectList(raw); ok {
			out.Items = items
			return out, nil
		}
	}

	if _, hasID := obj["id"]; hasID {
		return page{Items: []json.RawMessage{body}, Total: 1, HasTotal: true}, nil
	}
	if _, hasGeo := obj["geoname_id"]; hasGeo {
		return page{Items: []json.RawMessage{body}, Total: 1, HasTotal: true}, nil
	}

	// Fall back to the single list-of-objects value, if exactly one exists.
	var found []json.RawMessage
	lists := 0
	for _, raw := range obj {
		if items, ok := asObjectList(raw); ok && len(items) > 0 {
			found = items
			lists++
		}
	}
	if lists == 1 {
		out.Items = found
	}
	return out, nil
}

func asObjectList(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	for _, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, false
		}
	}
	return items, true
}

func decodeItems[T any](p page) ([]T, error) {
	out := make([]T, 0, len(p.Items))
	for i, raw := range p.Items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w", ErrDecode, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
