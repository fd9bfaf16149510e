package graph

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidName is returned for labels or identifiers that cannot be used.
var ErrInvalidName = errors.New("invalid name")

var labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidLabel checks a node label or relationship type before it is spliced
// into Cypher. Values never are; they travel as parameters.
func ValidLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("%w: label %q", ErrInvalidName, label)
	}
	return nil
}

// ValidID rejects identifiers containing the namespace separator.
func ValidID(id string) error {
	if id == "" || strings.Contains(id, ":") {
		return fmt.Errorf("%w: %q, only use alphanumeric characters", ErrInvalidName, id)
	}
	return nil
}

// Node is a typed, named graph node with properties.
type Node struct {
	Type       string
	Name       string
	Properties map[string]any
}

// NewNode copies props into a node. Name takes precedence over a "name"
// property.
func NewNode(typ, name string, props map[string]any) Node {
	n := Node{Type: typ, Name: name, Properties: make(map[string]any, len(props))}
	for k, v := range props {
		n.Properties[k] = v
	}
	return n
}

// Namespace returns the node's namespace property, if any.
func (n Node) Namespace() string {
	ns, _ := n.Properties["namespace"].(string)
	return ns
}

// QualifiedAddress is "namespace::name", or the name when no namespace is set.
func (n Node) QualifiedAddress() string {
	if ns := n.Namespace(); ns != "" {
		return ns + "::" + n.Name
	}
	return n.Name
}

// Create renders "(v:Type {name: $v_name, ...})" with every property.
func (n Node) Create(v string) (string, map[string]any, error) {
	props := n.allProperties()
	return n.pattern(v, props)
}

// Match renders a pattern matching on name and, when set, namespace. A
// node without a name matches on all of its properties.
func (n Node) Match(v string) (string, map[string]any, error) {
	props := map[string]any{}
	if n.Name != "" {
		props["name"] = n.Name
	}
	if ns := n.Namespace(); ns != "" {
		props["namespace"] = ns
	}
	for k, val := range n.Properties {
		if n.Name == "" && k != "namespace" {
			props[k] = val
		}
	}
	return n.pattern(v, props)
}

func (n Node) allProperties() map[string]any {
	props := make(map[string]any, len(n.Properties)+2)
	for k, v := range n.Properties {
		props[k] = v
	}
	if n.Name != "" {
		props["name"] = n.Name
		if n.Namespace() != "" {
			props["qualified_address"] = n.QualifiedAddress()
		}
	}
	return props
}

func (n Node) pattern(v string, props map[string]any) (string, map[string]any, error) {
	if err := ValidLabel(v); err != nil {
		return "", nil, err
	}
	if err := ValidLabel(n.Type); err != nil {
		return "", nil, err
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		if err := ValidLabel(k); err != nil {
			return "", nil, fmt.Errorf("property: %w", err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(map[string]any, len(keys))
	parts := make([]string, len(keys))
	for i, k := range keys {
		p := v + "_" + k
		parts[i] = fmt.Sprintf("%s: $%s", k, p)
		params[p] = props[k]
	}
	if len(parts) == 0 {
		return fmt.Sprintf("(%s:%s)", v, n.Type), params, nil
	}
	return fmt.Sprintf("(%s:%s {%s})", v, n.Type, strings.Join(parts, ", ")), params, nil
}

func (n Node) String() string {
	return fmt.Sprintf("Node(%s, %s, %v)", n.Type, n.Name, n.Properties)
}

// MergeParams combines parameter maps from several patterns.
func MergeParams(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
