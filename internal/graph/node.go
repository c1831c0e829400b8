package graph

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Node kinds
// ---------------------------------------------------------------------------

// NodeKind distinguishes committed conversation turns from transient
// prompt-entry nodes.
type NodeKind string

const (
	// NodeKindMessage is a committed user or assistant turn.
	NodeKindMessage NodeKind = "message"
	// NodeKindPending is a prompt box dropped on the canvas that has not
	// been submitted yet. Its content is always empty; live text stays in
	// the rendering surface until submit.
	NodeKindPending NodeKind = "input"
)

// Role represents a conversation participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RootNodeID is the well-known ID of the seeded conversation root.
const RootNodeID = "root"

// ---------------------------------------------------------------------------
// Position
// ---------------------------------------------------------------------------

// Position is a 2D canvas coordinate. The rendering surface is authoritative
// for a node's position during a live drag; the engine's snapshot is
// authoritative for persistence.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the rendering surface's pan/zoom state, carried through
// persistence untouched.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport returns the viewport used when no persisted state exists.
func DefaultViewport() Viewport {
	return Viewport{X: 0, Y: 0, Zoom: 1}
}

// ---------------------------------------------------------------------------
// Node
// ---------------------------------------------------------------------------

// Node is a vertex in the conversation graph: either a committed Message
// turn or a transient pending prompt. The ID is opaque and stable for the
// node's lifetime — a pending prompt keeps its ID when it becomes a
// message on submit.
type Node struct {
	ID        string   `json:"id"`
	Kind      NodeKind `json:"kind"`
	Role      Role     `json:"role,omitempty"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"` // unix millis, assigned once by the Store
	Label     string   `json:"label,omitempty"`
	Position  Position `json:"position"`
}

// NewMessageNode creates a committed Message node. If id is empty a new
// UUID v4 is generated.
func NewMessageNode(id string, role Role, content string, pos Position) *Node {
	if id == "" {
		id = uuid.New().String()
	}
	return &Node{
		ID:       id,
		Kind:     NodeKindMessage,
		Role:     role,
		Content:  content,
		Position: pos,
	}
}

// NewPendingNode creates a pending prompt node at the given drop position.
// Pending prompts become user messages on submit, so the role is fixed to
// user up front.
func NewPendingNode(pos Position) *Node {
	return &Node{
		ID:       "input-" + uuid.New().String(),
		Kind:     NodeKindPending,
		Role:     RoleUser,
		Content:  "",
		Position: pos,
	}
}

// IsPending returns true when the node is an unsubmitted prompt box.
func (n *Node) IsPending() bool {
	return n.Kind == NodeKindPending
}

// IsRoot returns true for the seeded conversation root.
func (n *Node) IsRoot() bool {
	return n.ID == RootNodeID
}

// CreatedAt returns the node's creation time.
func (n *Node) CreatedAt() time.Time {
	return time.UnixMilli(n.Timestamp)
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	cp := *n
	return &cp
}
