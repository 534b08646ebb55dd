package backup

import (
	"strings"

	"conti/internal/core"
)

// migrations[v] upgrades a raw document from version v to v+1 in place.
var migrations = map[int]func(map[string]any) error{
	1: migrateV1toV2,
}

// migrateV1toV2 handles the first schema:
//   - rules had "startDate" where they now have "nextDueDate"
//   - tags were a single comma-separated string
//   - there were no settings
func migrateV1toV2(doc map[string]any) error {
	rules, err := objects(doc, "recurringRules")
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if _, ok := rule["nextDueDate"]; !ok {
			if start, ok := rule["startDate"]; ok {
				rule["nextDueDate"] = start
			}
		}
		delete(rule, "startDate")
		if err := splitTags(rule); err != nil {
			return err
		}
	}

	txns, err := objects(doc, "transactions")
	if err != nil {
		return err
	}
	for _, t := range txns {
		if err := splitTags(t); err != nil {
			return err
		}
	}

	if _, ok := doc["settings"]; !ok {
		doc["settings"] = map[string]any{}
	}
	return nil
}

func objects(doc map[string]any, key string) ([]map[string]any, error) {
	v, ok := doc[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, core.Invalid(key, "not a list")
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, core.Invalid(key, "entry is not an object")
		}
		out = append(out, obj)
	}
	return out, nil
}

func splitTags(obj map[string]any) error {
	switch tags := obj["tags"].(type) {
	case nil, []any:
		return nil
	case string:
		var out []any
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				out = append(out, tag)
			}
		}
		obj["tags"] = out
		return nil
	}
	return core.Invalid("tags", "expected a list or a comma-separated string")
}
