package graph

import (
	"sort"
)

// ---------------------------------------------------------------------------
// Navigation intents
// ---------------------------------------------------------------------------

// NavIntent is a keyboard-driven navigation request from the rendering
// surface.
type NavIntent string

const (
	NavAdvance     NavIntent = "advance"
	NavParent      NavIntent = "parent"
	NavChild       NavIntent = "child"
	NavPrevSibling NavIntent = "prev_sibling"
	NavNextSibling NavIntent = "next_sibling"
	NavRoot        NavIntent = "root"
	NavLatest      NavIntent = "latest"
)

// NavResult reports where focus should land and whether it actually moved.
// Moved is false both for no-ops (to-parent on a root) and for the
// focus-acquisition case where an unfocused directional intent resolves to
// the root without travelling.
type NavResult struct {
	FocusID string `json:"focus_id"`
	Moved   bool   `json:"moved"`
}

// ---------------------------------------------------------------------------
// Navigation engine — pure functions over a snapshot
// ---------------------------------------------------------------------------

// Navigate computes the next focused node for the given intent. The focus
// is explicit session state owned by the caller; the engine holds nothing
// mutable. An empty snapshot yields an empty result.
func Navigate(snap *Snapshot, focusID string, intent NavIntent) NavResult {
	if len(snap.Nodes) == 0 {
		return NavResult{}
	}

	// Directional intents with no current focus first acquire the root —
	// focus lands somewhere visible instead of the intent silently failing.
	if focusID == "" || snap.NodeByID(focusID) == nil {
		return NavResult{FocusID: rootOf(snap).ID, Moved: false}
	}

	switch intent {
	case NavAdvance:
		return advance(snap, focusID)
	case NavParent:
		return toParent(snap, focusID)
	case NavChild:
		return toChild(snap, focusID)
	case NavPrevSibling:
		return toSibling(snap, focusID, -1)
	case NavNextSibling:
		return toSibling(snap, focusID, +1)
	case NavRoot:
		target := rootOf(snap).ID
		return NavResult{FocusID: target, Moved: target != focusID}
	case NavLatest:
		target := latestOf(snap).ID
		return NavResult{FocusID: target, Moved: target != focusID}
	default:
		return NavResult{FocusID: focusID, Moved: false}
	}
}

// advance cycles through every node in timestamp order, wrapping to the
// first after the last.
func advance(snap *Snapshot, focusID string) NavResult {
	ordered := nodesByTimestamp(snap)
	for i, n := range ordered {
		if n.ID == focusID {
			next := ordered[(i+1)%len(ordered)]
			return NavResult{FocusID: next.ID, Moved: next.ID != focusID}
		}
	}
	return NavResult{FocusID: focusID, Moved: false}
}

func toParent(snap *Snapshot, focusID string) NavResult {
	if e := incomingEdge(snap, focusID); e != nil {
		return NavResult{FocusID: e.Source, Moved: true}
	}
	return NavResult{FocusID: focusID, Moved: false}
}

// toChild picks the most recently created child — the branch the user is
// most likely still working on.
func toChild(snap *Snapshot, focusID string) NavResult {
	var best *Node
	for _, e := range snap.Edges {
		if e.Source != focusID {
			continue
		}
		c := snap.NodeByID(e.Target)
		if c == nil {
			continue
		}
		if best == nil || laterThan(c, best) {
			best = c
		}
	}
	if best == nil {
		return NavResult{FocusID: focusID, Moved: false}
	}
	return NavResult{FocusID: best.ID, Moved: true}
}

// toSibling moves within the timestamp-ordered children of the focused
// node's parent. It does not wrap: the first sibling has no previous, the
// last has no next.
func toSibling(snap *Snapshot, focusID string, dir int) NavResult {
	in := incomingEdge(snap, focusID)
	if in == nil {
		return NavResult{FocusID: focusID, Moved: false}
	}

	var siblings []*Node
	for _, e := range snap.Edges {
		if e.Source != in.Source {
			continue
		}
		if n := snap.NodeByID(e.Target); n != nil {
			siblings = append(siblings, n)
		}
	}
	sortByTimestamp(siblings)

	for i, n := range siblings {
		if n.ID == focusID {
			j := i + dir
			if j < 0 || j >= len(siblings) {
				return NavResult{FocusID: focusID, Moved: false}
			}
			return NavResult{FocusID: siblings[j].ID, Moved: true}
		}
	}
	return NavResult{FocusID: focusID, Moved: false}
}

// ---------------------------------------------------------------------------
// Snapshot helpers
// ---------------------------------------------------------------------------

// rootOf returns the node with the well-known root id when present, else
// the oldest node.
func rootOf(snap *Snapshot) *Node {
	if n := snap.NodeByID(RootNodeID); n != nil {
		return n
	}
	ordered := nodesByTimestamp(snap)
	return ordered[0]
}

// latestOf returns the newest node across the whole snapshot, ignoring
// tree structure.
func latestOf(snap *Snapshot) *Node {
	ordered := nodesByTimestamp(snap)
	return ordered[len(ordered)-1]
}

func incomingEdge(snap *Snapshot, id string) *Edge {
	for _, e := range snap.Edges {
		if e.Target == id {
			return e
		}
	}
	return nil
}

func nodesByTimestamp(snap *Snapshot) []*Node {
	out := make([]*Node, len(snap.Nodes))
	copy(out, snap.Nodes)
	sortByTimestamp(out)
	return out
}

// sortByTimestamp orders ascending; equal timestamps fall back to id so
// navigation stays deterministic.
func sortByTimestamp(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Timestamp != nodes[j].Timestamp {
			return nodes[i].Timestamp < nodes[j].Timestamp
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func laterThan(a, b *Node) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}
