package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrNodeNotFound is returned when an operation addresses an absent node.
	ErrNodeNotFound = errors.New("graph: node not found")

	// ErrHasParent is returned by AddEdge when the target already has an
	// incoming edge. The conversation graph is a forest of out-trees:
	// in-degree is at most 1 for every node.
	ErrHasParent = errors.New("graph: target already has a parent edge")

	// ErrUnknownEndpoint is returned by AddEdge when source or target does
	// not exist in the store.
	ErrUnknownEndpoint = errors.New("graph: edge endpoint not found")
)

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// Snapshot is a deep copy of the full graph state at one instant. Snapshots
// are what the codec serializes and what the navigation engine reads —
// they never observe a partially applied mutation.
type Snapshot struct {
	Nodes    []*Node
	Edges    []*Edge
	Viewport Viewport
}

// NodeByID returns the snapshot node with the given id, or nil.
func (s *Snapshot) NodeByID(id string) *Node {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mutations and listeners
// ---------------------------------------------------------------------------

// MutationOp identifies the kind of store mutation a listener is told about.
type MutationOp string

const (
	OpAddNode     MutationOp = "add_node"
	OpUpdateNode  MutationOp = "update_node"
	OpMoveNode    MutationOp = "move_node"
	OpRemoveNode  MutationOp = "remove_node"
	OpAddEdge     MutationOp = "add_edge"
	OpRemoveEdges MutationOp = "remove_edges"
	OpSetViewport MutationOp = "set_viewport"
	OpReplaceAll  MutationOp = "replace_all"
)

// Mutation describes a single committed change. ID is the affected node or
// edge id; empty for bulk operations.
type Mutation struct {
	Op MutationOp `json:"op"`
	ID string     `json:"id,omitempty"`
}

// MutationListener receives a notification after a mutation has committed.
// Listeners are invoked outside the store lock and must not block.
type MutationListener func(Mutation)

// ---------------------------------------------------------------------------
// NodePatch
// ---------------------------------------------------------------------------

// NodePatch carries the fields ReplaceNodeData may change. Nil fields are
// left untouched. Timestamp and ID are deliberately absent: both are
// assigned once at creation and never mutated.
type NodePatch struct {
	Kind    *NodeKind
	Role    *Role
	Content *string
	Label   *string
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store is the single source of truth for the conversation graph. It keeps
// the node and edge sets together with an incrementally maintained adjacency
// index (parent edge per node, children per node) so ancestor walks and
// sibling lookups are O(1) per hop instead of scans over the edge set.
//
// All public methods are goroutine-safe.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string]*Edge
	nodeOrder []string // insertion order, keeps snapshots deterministic
	edgeOrder []string
	parent    map[string]*Edge    // target id → its unique incoming edge
	children  map[string][]string // source id → child node ids, creation order
	viewport  Viewport

	lastTS int64
	now    func() int64 // injectable clock, unix millis

	lmu       sync.RWMutex
	listeners []MutationListener
}

// NewStore returns an empty, initialised Store.
func NewStore() *Store {
	return &Store{
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		parent:   make(map[string]*Edge),
		children: make(map[string][]string),
		viewport: DefaultViewport(),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock replaces the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Subscribe registers a listener notified after every committed mutation.
func (s *Store) Subscribe(fn MutationListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// notify runs outside the store lock.
func (s *Store) notify(m Mutation) {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	for _, fn := range s.listeners {
		fn(m)
	}
}

// nextTimestampLocked returns a strictly increasing unix-milli timestamp.
// Two nodes created within the same millisecond still get a total order,
// which the navigation engine depends on.
func (s *Store) nextTimestampLocked() int64 {
	ts := s.now()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// ============================ MUTATIONS ==================================

// AddNode inserts a node and stamps its creation timestamp. Adding an id
// that already exists replaces the node in place (same index slot).
func (s *Store) AddNode(node *Node) {
	s.mu.Lock()
	if _, exists := s.nodes[node.ID]; !exists {
		s.nodeOrder = append(s.nodeOrder, node.ID)
	}
	if node.Timestamp == 0 {
		node.Timestamp = s.nextTimestampLocked()
	} else if node.Timestamp > s.lastTS {
		s.lastTS = node.Timestamp
	}
	s.nodes[node.ID] = node
	s.mu.Unlock()

	s.notify(Mutation{Op: OpAddNode, ID: node.ID})
}

// ReplaceNodeData applies a patch to an existing node. This is the only
// write path for the two sanctioned content transitions: a pending prompt
// flipping to a user message, and an assistant placeholder receiving its
// reply (or the error sentinel) exactly once.
func (s *Store) ReplaceNodeData(id string, patch NodePatch) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("replace %q: %w", id, ErrNodeNotFound)
	}
	if patch.Kind != nil {
		n.Kind = *patch.Kind
	}
	if patch.Role != nil {
		n.Role = *patch.Role
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.Label != nil {
		n.Label = *patch.Label
	}
	s.mu.Unlock()

	s.notify(Mutation{Op: OpUpdateNode, ID: id})
	return nil
}

// MoveNode updates a node's persisted position after a drag gesture ends.
func (s *Store) MoveNode(id string, pos Position) error {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("move %q: %w", id, ErrNodeNotFound)
	}
	n.Position = pos
	s.mu.Unlock()

	s.notify(Mutation{Op: OpMoveNode, ID: id})
	return nil
}

// RemoveNode deletes a node and every edge incident to it as one atomic
// update — no reader can observe a dangling edge.
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove %q: %w", id, ErrNodeNotFound)
	}

	// Incoming edge.
	if in, ok := s.parent[id]; ok {
		s.dropEdgeLocked(in)
	}
	// Outgoing edges.
	for _, childID := range append([]string(nil), s.children[id]...) {
		if e, ok := s.parent[childID]; ok && e.Source == id {
			s.dropEdgeLocked(e)
		}
	}
	delete(s.children, id)
	delete(s.nodes, id)
	s.removeFromOrderLocked(&s.nodeOrder, id)
	s.mu.Unlock()

	s.notify(Mutation{Op: OpRemoveNode, ID: id})
	return nil
}

// AddEdge inserts a parent→child edge and updates the adjacency index.
// Both endpoints must exist and the target must not already have a parent.
func (s *Store) AddEdge(edge *Edge) error {
	s.mu.Lock()
	if _, ok := s.nodes[edge.Source]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("edge source %q: %w", edge.Source, ErrUnknownEndpoint)
	}
	if _, ok := s.nodes[edge.Target]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("edge target %q: %w", edge.Target, ErrUnknownEndpoint)
	}
	if _, ok := s.parent[edge.Target]; ok {
		s.mu.Unlock()
		return fmt.Errorf("edge %s→%s: %w", edge.Source, edge.Target, ErrHasParent)
	}

	s.edges[edge.ID] = edge
	s.edgeOrder = append(s.edgeOrder, edge.ID)
	s.parent[edge.Target] = edge
	s.children[edge.Source] = append(s.children[edge.Source], edge.Target)
	s.mu.Unlock()

	s.notify(Mutation{Op: OpAddEdge, ID: edge.ID})
	return nil
}

// RemoveEdgesTo detaches a node from its parent without removing the node.
func (s *Store) RemoveEdgesTo(id string) {
	s.mu.Lock()
	e, ok := s.parent[id]
	if ok {
		s.dropEdgeLocked(e)
	}
	s.mu.Unlock()

	if ok {
		s.notify(Mutation{Op: OpRemoveEdges, ID: id})
	}
}

// SetViewport records the rendering surface's pan/zoom state.
func (s *Store) SetViewport(vp Viewport) {
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()

	s.notify(Mutation{Op: OpSetViewport})
}

// SetAll replaces the entire graph in one atomic update. Used by restore
// and by "new conversation". Node timestamps are taken as-is; the internal
// clock is advanced past the largest one so future nodes sort after every
// restored node.
func (s *Store) SetAll(nodes []*Node, edges []*Edge, vp Viewport) error {
	s.mu.Lock()
	nodeMap := make(map[string]*Node, len(nodes))
	nodeOrder := make([]string, 0, len(nodes))
	var maxTS int64
	for _, n := range nodes {
		if _, dup := nodeMap[n.ID]; dup {
			s.mu.Unlock()
			return fmt.Errorf("graph: duplicate node id %q", n.ID)
		}
		nodeMap[n.ID] = n
		nodeOrder = append(nodeOrder, n.ID)
		if n.Timestamp > maxTS {
			maxTS = n.Timestamp
		}
	}

	edgeMap := make(map[string]*Edge, len(edges))
	edgeOrder := make([]string, 0, len(edges))
	parent := make(map[string]*Edge, len(edges))
	children := make(map[string][]string)
	for _, e := range edges {
		if _, ok := nodeMap[e.Source]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("graph: edge %q source %q: %w", e.ID, e.Source, ErrUnknownEndpoint)
		}
		if _, ok := nodeMap[e.Target]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("graph: edge %q target %q: %w", e.ID, e.Target, ErrUnknownEndpoint)
		}
		if _, ok := parent[e.Target]; ok {
			s.mu.Unlock()
			return fmt.Errorf("graph: edge %q: %w", e.ID, ErrHasParent)
		}
		edgeMap[e.ID] = e
		edgeOrder = append(edgeOrder, e.ID)
		parent[e.Target] = e
		children[e.Source] = append(children[e.Source], e.Target)
	}

	s.nodes = nodeMap
	s.edges = edgeMap
	s.nodeOrder = nodeOrder
	s.edgeOrder = edgeOrder
	s.parent = parent
	s.children = children
	s.viewport = vp
	if maxTS > s.lastTS {
		s.lastTS = maxTS
	}
	s.mu.Unlock()

	s.notify(Mutation{Op: OpReplaceAll})
	return nil
}

// SeedRoot installs the initial assistant greeting when the store is empty.
// Returns the root node, or the existing one when already seeded.
func (s *Store) SeedRoot(greeting string) *Node {
	s.mu.Lock()
	if n, ok := s.nodes[RootNodeID]; ok {
		s.mu.Unlock()
		return n
	}
	root := NewMessageNode(RootNodeID, RoleAssistant, greeting, Position{X: 0, Y: 0})
	root.Timestamp = s.nextTimestampLocked()
	s.nodes[root.ID] = root
	s.nodeOrder = append(s.nodeOrder, root.ID)
	s.mu.Unlock()

	s.notify(Mutation{Op: OpAddNode, ID: RootNodeID})
	return root
}

// dropEdgeLocked removes an edge from the edge set and both adjacency maps.
// Caller MUST hold s.mu write lock.
func (s *Store) dropEdgeLocked(e *Edge) {
	delete(s.edges, e.ID)
	s.removeFromOrderLocked(&s.edgeOrder, e.ID)
	delete(s.parent, e.Target)
	kids := s.children[e.Source]
	for i, id := range kids {
		if id == e.Target {
			s.children[e.Source] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
	if len(s.children[e.Source]) == 0 {
		delete(s.children, e.Source)
	}
}

func (s *Store) removeFromOrderLocked(order *[]string, id string) {
	for i, v := range *order {
		if v == id {
			*order = append((*order)[:i], (*order)[i+1:]...)
			return
		}
	}
}

// ============================== READS ====================================

// GetNode returns a copy of the node with the given ID.
func (s *Store) GetNode(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// ParentEdge returns the unique incoming edge of id, or nil when id is a
// root or unknown.
func (s *Store) ParentEdge(id string) *Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.parent[id]; ok {
		return e.Clone()
	}
	return nil
}

// Children returns the ids of id's children in creation order.
func (s *Store) Children(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.children[id]))
	copy(out, s.children[id])
	return out
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Viewport returns the last recorded viewport.
func (s *Store) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

// Snapshot returns a deep copy of the full graph state. Serialization and
// navigation read snapshots, so they always see one committed state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Nodes:    make([]*Node, 0, len(s.nodeOrder)),
		Edges:    make([]*Edge, 0, len(s.edgeOrder)),
		Viewport: s.viewport,
	}
	for _, id := range s.nodeOrder {
		snap.Nodes = append(snap.Nodes, s.nodes[id].Clone())
	}
	for _, id := range s.edgeOrder {
		snap.Edges = append(snap.Edges, s.edges[id].Clone())
	}
	return snap
}

// ============================== STATS ====================================

// Stats summarises the store contents for the stats endpoint.
type Stats struct {
	TotalNodes   int            `json:"total_nodes"`
	TotalEdges   int            `json:"total_edges"`
	NodesByKind  map[string]int `json:"nodes_by_kind"`
	NodesByRole  map[string]int `json:"nodes_by_role"`
	PendingCount int            `json:"pending_count"`
}

// Stats returns a snapshot of store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalNodes:  len(s.nodes),
		TotalEdges:  len(s.edges),
		NodesByKind: make(map[string]int),
		NodesByRole: make(map[string]int),
	}
	for _, n := range s.nodes {
		st.NodesByKind[string(n.Kind)]++
		if n.Role != "" {
			st.NodesByRole[string(n.Role)]++
		}
		if n.Kind == NodeKindPending {
			st.PendingCount++
		}
	}
	return st
}
