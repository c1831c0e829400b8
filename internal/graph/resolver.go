package graph

// ---------------------------------------------------------------------------
// Context resolution
// ---------------------------------------------------------------------------

// Turn is one (role, content) entry of the linear history fed to the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// maxResolveDepth bounds the ancestor walk. In-degree ≤ 1 makes cycles
// impossible through the public API; the guard exists so a corrupted
// restore can never spin the resolver.
const maxResolveDepth = 10000

// ResolveContext walks the unique parent edges from nodeID up to its root
// and returns the Message turns in creation order (root first). Pending
// prompt nodes on the path contribute nothing — only committed messages
// carry conversational content. Runs in O(depth) over the adjacency index.
func (s *Store) ResolveContext(nodeID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var turns []Turn
	cur := nodeID
	for i := 0; i < maxResolveDepth; i++ {
		n, ok := s.nodes[cur]
		if !ok {
			break
		}
		if n.Kind == NodeKindMessage {
			turns = append(turns, Turn{Role: n.Role, Content: n.Content})
		}
		e, ok := s.parent[cur]
		if !ok {
			break
		}
		cur = e.Source
	}

	// The walk collected leaf-to-root; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
