package graph

import (
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Edge
// ---------------------------------------------------------------------------

// Edge is a directed parent→child relationship establishing conversation
// ancestry. RoutingType and ArrowStyle are advisory rendering metadata —
// they steer how the rendering surface routes the connector, never the
// graph semantics.
type Edge struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	RoutingType string `json:"routing_type,omitempty"`
	ArrowStyle  string `json:"arrow_style,omitempty"`
}

// Default rendering hints for engine-created edges.
const (
	RoutingSmoothstep = "smoothstep"
	ArrowClosed       = "arrowclosed"
)

// NewEdge creates a parent→child edge with the default rendering hints.
// A new UUID v4 is always generated for the ID.
func NewEdge(source, target string) *Edge {
	return &Edge{
		ID:          "edge-" + uuid.New().String(),
		Source:      source,
		Target:      target,
		RoutingType: RoutingSmoothstep,
		ArrowStyle:  ArrowClosed,
	}
}

// Clone returns a copy of the edge.
func (e *Edge) Clone() *Edge {
	cp := *e
	return &cp
}
