// Package container resolves data containers in the graph and attaches
// method outputs to them.
package container

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mind/pkg/graph"
)

// ErrNotFound is returned when a container or data node does not resolve.
var ErrNotFound = errors.New("not found")

// Types are the container labels a lookup may resolve to.
var Types = []string{"generic", "patient", "accession", "scan", "slide"}

// ValidType reports whether typ is a container type.
func ValidType(typ string) bool {
	for _, t := range Types {
		if t == typ {
			return true
		}
	}
	return false
}

// DataNode is a data node attached to a container with its resolved path.
type DataNode struct {
	graph.Node
	Path string
}

// Container is a graph node holding data nodes, scoped to a namespace.
type Container struct {
	q         graph.Querier
	log       *zap.Logger
	namespace string
	node      *graph.Node
	address   string
	staged    []graph.Node
}

func New(q graph.Querier, log *zap.Logger) *Container {
	if log == nil {
		log = zap.NewNop()
	}
	return &Container{q: q, log: log}
}

// SetNamespace scopes lookups and saved nodes to a cohort namespace.
func (c *Container) SetNamespace(ns string) *Container {
	c.namespace = ns
	return c
}

func (c *Container) Namespace() string { return c.namespace }

// Name is the attached container's name, empty before Lookup.
func (c *Container) Name() string {
	if c.node == nil {
		return ""
	}
	return c.node.Name
}

// Type is the attached container's label, empty before Lookup.
func (c *Container) Type() string {
	if c.node == nil {
		return ""
	}
	return c.node.Type
}

// Address is the attached container's qualified address.
func (c *Container) Address() string { return c.address }

// Lookup attaches the container identified by id: a qualified address
// ("ns::name"), a numeric node id, or a name within the namespace.
func (c *Container) Lookup(ctx context.Context, id string) error {
	params := map[string]any{"types": Types}
	var where string
	switch {
	case strings.Contains(id, "::"):
		where = "container.qualified_address = $address"
		params["address"] = id
	case isNumeric(id):
		n, _ := strconv.ParseInt(id, 10, 64)
		where = "id(container) = $id"
		params["id"] = n
	default:
		if c.namespace == "" {
			return fmt.Errorf("lookup of %q by name needs a namespace", id)
		}
		where = "container.qualified_address = $address"
		params["address"] = c.namespace + "::" + id
	}

	cypher := "MATCH (container) WHERE " + where +
		" AND any(l IN labels(container) WHERE l IN $types)" +
		" RETURN container, labels(container) AS labels"
	recs, err := c.q.Query(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("looking up container %s: %w", id, err)
	}
	switch len(recs) {
	case 0:
		return fmt.Errorf("container %s: %w", id, ErrNotFound)
	case 1:
	default:
		return fmt.Errorf("container %s is ambiguous, %d matches", id, len(recs))
	}

	props, _ := recs[0]["container"].(map[string]any)
	name, _ := props["name"].(string)
	node := graph.NewNode(containerLabel(recs[0]["labels"]), name, props)
	c.node = &node
	if addr, ok := props["qualified_address"].(string); ok && addr != "" {
		c.address = addr
	} else {
		c.address = node.QualifiedAddress()
	}
	c.log.Info("Attached container",
		zap.String("address", c.address),
		zap.String("type", node.Type),
		zap.String("namespace", c.namespace),
	)
	return nil
}

// Get returns the data node of the given type and tag.
func (c *Container) Get(ctx context.Context, typ, tag string) (*DataNode, error) {
	if c.node == nil {
		return nil, errors.New("no container attached")
	}
	if err := graph.ValidLabel(typ); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (container)-[:HAS_DATA]-(data:%s) WHERE container.qualified_address = $address AND data.name = $tag RETURN data",
		typ)
	recs, err := c.q.Query(ctx, cypher, map[string]any{"address": c.address, "tag": tag})
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", typ, tag, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s node %q on %s: %w", typ, tag, c.address, ErrNotFound)
	}
	props, _ := recs[0]["data"].(map[string]any)
	d := &DataNode{Node: graph.NewNode(typ, tag, props)}
	for _, key := range []string{"file", "path"} {
		if p, ok := props[key].(string); ok && p != "" {
			d.Path = p
			break
		}
	}
	c.log.Info("Resolved data node", zap.String("type", typ), zap.String("tag", tag), zap.String("path", d.Path))
	return d, nil
}

// Add stages a data node for SaveAll.
func (c *Container) Add(n graph.Node) {
	c.staged = append(c.staged, n)
}

// SaveAll merges every staged node onto the container with a HAS_DATA edge.
func (c *Container) SaveAll(ctx context.Context) error {
	if c.node == nil {
		return errors.New("no container attached")
	}
	for len(c.staged) > 0 {
		n := c.staged[0]
		if err := graph.ValidLabel(n.Type); err != nil {
			return err
		}
		props := make(map[string]any, len(n.Properties)+3)
		for k, v := range n.Properties {
			props[k] = v
		}
		props["namespace"] = c.namespace
		props["name"] = n.Name
		props["qualified_address"] = c.address + "::" + n.Name

		cypher := fmt.Sprintf(
			"MATCH (container) WHERE container.qualified_address = $container "+
				"MERGE (container)-[:HAS_DATA]->(data:%s {qualified_address: $data}) "+
				"SET data += $props RETURN data",
			n.Type)
		_, err := c.q.Query(ctx, cypher, map[string]any{
			"container": c.address,
			"data":      props["qualified_address"],
			"props":     props,
		})
		if err != nil {
			return fmt.Errorf("saving %s %s: %w", n.Type, n.Name, err)
		}
		c.log.Info("Saved data node", zap.String("type", n.Type), zap.String("name", n.Name), zap.String("container", c.address))
		c.staged = c.staged[1:]
	}
	return nil
}

// OutputDir is where a method run tagged jobTag writes its files.
func (c *Container) OutputDir(root, jobTag string) string {
	return filepath.Join(root, "data", c.namespace, c.Name(), jobTag)
}

func containerLabel(v any) string {
	labels, _ := v.([]any)
	for _, l := range labels {
		if s, ok := l.(string); ok && ValidType(s) {
			return s
		}
	}
	return "generic"
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
