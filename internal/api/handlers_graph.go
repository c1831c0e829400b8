package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/canopy-chat/canopy/internal/branch"
	"github.com/canopy-chat/canopy/internal/codec"
	"github.com/canopy-chat/canopy/internal/graph"
	"github.com/canopy-chat/canopy/internal/storage"
)

// ---------------------------------------------------------------------------
// POST /api/graph/branch — connect gesture ended over empty canvas
// ---------------------------------------------------------------------------

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string         `json:"parent_id"`
		Position graph.Position `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PARENT_ID",
			"parent_id is required")
		return
	}

	pendingID, err := s.controller.StartBranch(req.ParentID, req.Position)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			writeError(w, http.StatusNotFound, "NODE_NOT_FOUND",
				"parent node not found")
		case errors.Is(err, branch.ErrPendingParent):
			writeError(w, http.StatusConflict, "PENDING_PARENT",
				"cannot branch from an unsubmitted prompt")
		default:
			writeError(w, http.StatusInternalServerError, "BRANCH_ERROR",
				"start branch failed: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": map[string]string{"pending_id": pendingID},
	})
}

// ---------------------------------------------------------------------------
// POST /api/graph/submit — pending prompt committed
// ---------------------------------------------------------------------------

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
		Text   string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NODE_ID",
			"node_id is required")
		return
	}

	// The backend call outlives this request; detach it from the request
	// context so closing the HTTP connection cannot cancel the reply.
	assistantID, err := s.controller.Submit(context.WithoutCancel(r.Context()), req.NodeID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			writeError(w, http.StatusNotFound, "NODE_NOT_FOUND",
				"pending node not found")
		case errors.Is(err, branch.ErrNotPending):
			writeError(w, http.StatusConflict, "NOT_PENDING",
				"node has already been submitted")
		case errors.Is(err, branch.ErrEmptyPrompt):
			writeError(w, http.StatusBadRequest, "EMPTY_PROMPT",
				"prompt text is empty")
		default:
			writeError(w, http.StatusInternalServerError, "SUBMIT_ERROR",
				"submit failed: "+err.Error())
		}
		return
	}

	// 202: the placeholder is committed, the reply arrives via SSE.
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]string{"assistant_id": assistantID},
	})
}

// ---------------------------------------------------------------------------
// POST /api/graph/cancel — pending prompt abandoned
// ---------------------------------------------------------------------------

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.controller.Cancel(req.NodeID); err != nil {
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			writeError(w, http.StatusNotFound, "NODE_NOT_FOUND",
				"pending node not found")
		case errors.Is(err, branch.ErrNotPending):
			writeError(w, http.StatusConflict, "NOT_PENDING",
				"only unsubmitted prompts can be cancelled")
		default:
			writeError(w, http.StatusInternalServerError, "CANCEL_ERROR",
				"cancel failed: "+err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/graph/move — node drag ended
// ---------------------------------------------------------------------------

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID   string         `json:"node_id"`
		Position graph.Position `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.store.MoveNode(req.NodeID, req.Position); err != nil {
		writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "node not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/graph/viewport — pan/zoom settled
// ---------------------------------------------------------------------------

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var vp graph.Viewport
	if !decodeJSON(w, r, &vp) {
		return
	}
	s.store.SetViewport(vp)
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/graph/label — display override edited
// ---------------------------------------------------------------------------

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeID string `json:"node_id"`
		Label  string `json:"label"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := s.store.ReplaceNodeData(req.NodeID, graph.NodePatch{Label: &req.Label}); err != nil {
		writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "node not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// POST /api/graph/reset — start a new conversation
// ---------------------------------------------------------------------------

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetAll(nil, nil, graph.DefaultViewport()); err != nil {
		writeError(w, http.StatusInternalServerError, "RESET_ERROR",
			"reset failed: "+err.Error())
		return
	}
	root := s.store.SeedRoot(s.greeting)
	s.setFocus(root.ID)

	// The persisted copy goes too; an in-flight reply that lands after
	// this targets a node id that no longer exists and is dropped.
	if s.durable != nil {
		if err := s.durable.DeleteSlot(r.Context(), storage.ConversationSlot); err != nil {
			writeError(w, http.StatusInternalServerError, "RESET_ERROR",
				"clear persisted conversation: "+err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]string{"root_id": root.ID},
	})
}

// ---------------------------------------------------------------------------
// GET /api/graph — full current document
// ---------------------------------------------------------------------------

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	doc := codec.Serialize(s.store.Snapshot())
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": doc})
}

// ---------------------------------------------------------------------------
// GET /api/graph/node/:id
// ---------------------------------------------------------------------------

func (s *Server) handleGraphNode(w http.ResponseWriter, r *http.Request) {
	nodeID := extractPathParam(r.URL.Path, "/api/graph/node/")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NODE_ID",
			"node ID is required in the URL path")
		return
	}

	node, ok := s.store.GetNode(nodeID)
	if !ok {
		writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "node not found")
		return
	}

	var parentID string
	if e := s.store.ParentEdge(nodeID); e != nil {
		parentID = e.Source
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"node":      node,
			"parent_id": parentID,
			"children":  s.store.Children(nodeID),
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/graph/context/:id — the linear history feeding the model
// ---------------------------------------------------------------------------

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	nodeID := extractPathParam(r.URL.Path, "/api/graph/context/")
	if nodeID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NODE_ID",
			"node ID is required in the URL path")
		return
	}
	if _, ok := s.store.GetNode(nodeID); !ok {
		writeError(w, http.StatusNotFound, "NODE_NOT_FOUND", "node not found")
		return
	}

	turns := s.store.ResolveContext(nodeID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"turns": turns,
			"total": len(turns),
		},
	})
}

// ---------------------------------------------------------------------------
// GET /api/graph/stats
// ---------------------------------------------------------------------------

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": s.store.Stats(),
	})
}

// ---------------------------------------------------------------------------
// POST /api/nav — keyboard navigation intent
// ---------------------------------------------------------------------------

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Intent graph.NavIntent `json:"intent"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isValidNavIntent(req.Intent) {
		writeError(w, http.StatusBadRequest, "INVALID_INTENT",
			"intent must be one of: advance, parent, child, prev_sibling, next_sibling, root, latest")
		return
	}

	snap := s.store.Snapshot()

	s.navMu.Lock()
	result := graph.Navigate(snap, s.focusID, req.Intent)
	s.focusID = result.FocusID
	s.navMu.Unlock()

	// Ask the rendering surface to bring the target into view.
	if result.FocusID != "" {
		s.sse.Broadcast(SSEEvent{Event: "nav:focus", Data: result})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": result})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// isValidNavIntent returns true if i is one of the 7 known intents.
func isValidNavIntent(i graph.NavIntent) bool {
	switch i {
	case graph.NavAdvance,
		graph.NavParent,
		graph.NavChild,
		graph.NavPrevSibling,
		graph.NavNextSibling,
		graph.NavRoot,
		graph.NavLatest:
		return true
	}
	return false
}

// extractPathParam extracts the path suffix after a given prefix.
func extractPathParam(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimPrefix(path, prefix)
}
