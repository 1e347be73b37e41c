// Package topic builds the topics shared by nodes and the server.
package topic

import (
	"strings"
)

// Wildcard matches exactly one topic level.
const Wildcard = "+"

// Builder joins a namespace, a segment and a node id: {root}/{segment}/{nodeID}.
type Builder struct {
	root string
}

// NewBuilder creates a Builder for the given root namespace, e.g. "node/v1".
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

func (b *Builder) Build(segment, id string) string {
	return b.root + "/" + strings.Trim(segment, "/") + "/" + id
}

// Wildcard returns the filter matching the segment of every node.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

func (b *Builder) Root() string {
	return b.root
}
