package evaluator

import (
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PropertiesJSON serializes a goal's opaque properties bag into canonical
// JSON for storage, building the document key by key with sjson rather than
// a single json.Marshal so non-stringifiable values are coerced the same way
// regardless of map iteration order.
func PropertiesJSON(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := "{}"
	var err error
	for _, k := range keys {
		doc, err = sjson.Set(doc, k, props[k])
		if err != nil {
			return "", fmt.Errorf("set property %q: %w", k, err)
		}
	}
	return doc, nil
}

// Property reads a dotted path out of a properties document, coercing
// whatever it finds to a string. Missing paths report false.
func Property(doc, path string) (string, bool) {
	res := gjson.Get(doc, path)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}
