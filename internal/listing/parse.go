package listing

import (
	"regexp"
	"strings"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
)

// ScriptsKey is the structured-data key that holds the page's JSON-LD blocks.
const ScriptsKey = "other_scripts"

var locationPattern = regexp.MustCompile(`-g(\d+)-`)

// Item is one restaurant entry of a listing page.
type Item struct {
	// Data is the full schema.org object, or a {name,url} stub for minimal entries.
	Data map[string]any
}

// URL returns the item's detail page.
func (i Item) URL() string {
	s, _ := i.Data["url"].(string)
	return s
}

// Payload converts the item into a directory record for cityID.
func (i Item) Payload(cityID int64) directory.RestaurantPayload {
	return directory.RestaurantFromJSONLD(i.Data, cityID)
}

// ExtractItems returns the list items of the first script carrying an
// itemListOrder, and whether the scripts key was present at all.
func ExtractItems(jsonData map[string]any) ([]Item, bool) {
	raw, ok := jsonData[ScriptsKey]
	if !ok {
		return nil, false
	}
	scripts, _ := raw.([]any)
	for _, s := range scripts {
		script, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := script["itemListOrder"]; !ok {
			continue
		}
		elements, _ := script["itemListElement"].([]any)
		items := make([]Item, 0, len(elements))
		for _, e := range elements {
			if item, ok := toItem(e); ok {
				items = append(items, item)
			}
		}
		return items, true
	}
	return nil, true
}

func toItem(v any) (Item, bool) {
	el, ok := v.(map[string]any)
	if !ok {
		return Item{}, false
	}
	if nested, ok := el["item"].(map[string]any); ok {
		return Item{Data: nested}, true
	}
	name, hasName := el["name"]
	url, hasURL := el["url"]
	if !hasName || !hasURL {
		return Item{}, false
	}
	return Item{Data: map[string]any{
		"name":    name,
		"url":     url,
		"address": map[string]any{},
	}}, true
}

// LocationID extracts the upstream geo id from a detail URL's -g<id>- segment.
func LocationID(url string) (string, bool) {
	m := locationPattern.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// AllowList is a set of upstream geo ids. The zero value allows everything.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from ids, ignoring blanks.
func NewAllowList(ids ...string) AllowList {
	set := make(AllowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Allows reports whether an item with the given detail URL may be forwarded.
// URLs without a parseable geo id are always allowed.
func (a AllowList) Allows(url string) bool {
	if len(a) == 0 {
		return true
	}
	id, ok := LocationID(url)
	if !ok {
		return true
	}
	_, allowed := a[id]
	return allowed
}
