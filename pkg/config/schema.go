package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema maps required keys (nested keys joined with "::") to their type:
// string, int, float, bool, map or list.
type Schema map[string]string

func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	schema := Schema{}
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}
	return schema, nil
}

// Validate checks that every schema key exists in the named document with
// the declared type. All violations are reported together.
func (s *Set) Validate(name string, schema Schema) error {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var problems []string
	for _, k := range keys {
		v, err := s.Get(name + separator + k)
		if err != nil {
			problems = append(problems, fmt.Sprintf("missing %s", k))
			continue
		}
		if !matchesType(v, schema[k]) {
			problems = append(problems, fmt.Sprintf("%s should be %s, got %T", k, schema[k], v))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config %s failed validation: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

func matchesType(v any, typ string) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "int":
		_, ok := v.(int)
		return ok
	case "float":
		switch v.(type) {
		case float64, int:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "map":
		_, ok := v.(map[string]any)
		return ok
	case "list":
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}
