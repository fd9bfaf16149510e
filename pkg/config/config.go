// Package config loads named YAML configuration documents and resolves
// "NAME::key::subkey" lookups against them.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Conventional document names.
const (
	AppConfig  = "APP_CFG"
	DataConfig = "DATA_CFG"
)

const separator = "::"

// ErrMissingKey is returned when a lookup does not resolve.
var ErrMissingKey = errors.New("config key not found")

// Set is a collection of named configuration documents.
type Set struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
	raw  map[string][]byte
}

func NewSet() *Set {
	return &Set{
		docs: make(map[string]map[string]any),
		raw:  make(map[string][]byte),
	}
}

// Load reads a YAML file into the document called name. When schemaPath is
// non-empty the document is validated against it.
func (s *Set) Load(name, path, schemaPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := s.LoadBytes(name, data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if schemaPath == "" {
		return nil
	}
	schema, err := LoadSchema(schemaPath)
	if err != nil {
		return err
	}
	return s.Validate(name, schema)
}

// LoadBytes parses YAML into the document called name, replacing any
// previous document of that name. ${VAR} references are expanded from the
// environment first.
func (s *Set) LoadBytes(name string, data []byte) error {
	expanded, err := expandEnv(string(data))
	if err != nil {
		return err
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[name] = doc
	s.raw[name] = []byte(expanded)
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(text string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(text, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Names lists the loaded document names.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.docs))
	for n := range s.docs {
		names = append(names, n)
	}
	return names
}

// Get resolves "NAME::key[::subkey...]".
func (s *Set) Get(key string) (any, error) {
	parts := strings.Split(key, separator)
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed config key %q, expected NAME::key", key)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[parts[0]]
	if !ok {
		return nil, fmt.Errorf("%w: no config named %s", ErrMissingKey, parts[0])
	}
	var cur any = doc
	for _, p := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
		if cur, ok = m[p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
	}
	return cur, nil
}

// Has reports whether key resolves.
func (s *Set) Has(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

func (s *Set) GetString(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case map[string]any, []any:
		return "", fmt.Errorf("config key %s is not a scalar", key)
	default:
		return fmt.Sprint(t), nil
	}
}

func (s *Set) GetInt(key string) (int, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("config key %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("config key %s is %T, not an integer", key, v)
	}
}

// StringOr returns the value of key or def when it does not resolve.
func (s *Set) StringOr(key, def string) string {
	v, err := s.GetString(key)
	if err != nil || v == "" {
		return def
	}
	return v
}

// IntOr returns the value of key or def when it does not resolve.
func (s *Set) IntOr(key string, def int) int {
	v, err := s.GetInt(key)
	if err != nil {
		return def
	}
	return v
}

// Decode unmarshals the document called name into out.
func (s *Set) Decode(name string, out any) error {
	s.mu.RLock()
	raw, ok := s.raw[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no config named %s", ErrMissingKey, name)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding config %s: %w", name, err)
	}
	return nil
}
