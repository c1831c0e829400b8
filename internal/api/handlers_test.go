package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-chat/canopy/internal/ai"
	"github.com/canopy-chat/canopy/internal/branch"
	"github.com/canopy-chat/canopy/internal/codec"
	"github.com/canopy-chat/canopy/internal/graph"
)

const testGreeting = "Hello! Drag from me to branch."

// newTestServer wires a Server around an in-memory store with a seeded root
// and no model backend or durable store.
func newTestServer(t *testing.T) (*Server, *graph.Store, *branch.Controller) {
	t.Helper()
	store := graph.NewStore()
	store.SeedRoot(testGreeting)
	controller := branch.NewController(store, nil, ai.DefaultGenerateOptions(), nil)
	srv := NewServer(store, controller, nil, nil, NewSSEBroadcaster(), testGreeting)
	srv.RegisterRoutes()
	return srv, store, controller
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Data
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestBranchSubmitCancelFlow(t *testing.T) {
	srv, store, _ := newTestServer(t)

	// Branch off the root.
	rec := doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{
		"parent_id": graph.RootNodeID,
		"position":  graph.Position{X: 50, Y: 200},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	pendingID := decodeData(t, rec)["pending_id"].(string)
	require.NotEmpty(t, pendingID)

	// Submit it. No backend configured: 202 with an assistant id, the
	// error content lands asynchronously.
	rec = doJSON(t, srv, http.MethodPost, "/api/graph/submit", map[string]string{
		"node_id": pendingID,
		"text":    "hello",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assistantID := decodeData(t, rec)["assistant_id"].(string)
	require.NotEmpty(t, assistantID)

	// The user node flipped and the placeholder chain exists.
	user, ok := store.GetNode(pendingID)
	require.True(t, ok)
	assert.Equal(t, graph.NodeKindMessage, user.Kind)
	assert.Equal(t, "hello", user.Content)
	assert.Equal(t, pendingID, store.ParentEdge(assistantID).Source)

	// Submitting the same node again conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/graph/submit", map[string]string{
		"node_id": pendingID,
		"text":    "again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Cancelling a committed node conflicts too.
	rec = doJSON(t, srv, http.MethodPost, "/api/graph/cancel", map[string]string{
		"node_id": pendingID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBranchErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{
		"parent_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/submit", map[string]string{
		"node_id": "ghost", "text": "hi",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitEmptyPromptRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{
		"parent_id": graph.RootNodeID,
	})
	pendingID := decodeData(t, rec)["pending_id"].(string)

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/submit", map[string]string{
		"node_id": pendingID,
		"text":    "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMPTY_PROMPT")
}

func TestCancelRemovesPendingNode(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{
		"parent_id": graph.RootNodeID,
	})
	pendingID := decodeData(t, rec)["pending_id"].(string)

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/cancel", map[string]string{
		"node_id": pendingID,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := store.GetNode(pendingID)
	assert.False(t, ok)
}

func TestMoveAndViewport(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/move", map[string]interface{}{
		"node_id":  graph.RootNodeID,
		"position": graph.Position{X: 77, Y: 88},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	root, _ := store.GetNode(graph.RootNodeID)
	assert.Equal(t, graph.Position{X: 77, Y: 88}, root.Position)

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/viewport",
		graph.Viewport{X: 5, Y: 6, Zoom: 2})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, graph.Viewport{X: 5, Y: 6, Zoom: 2}, store.Viewport())

	rec = doJSON(t, srv, http.MethodPost, "/api/graph/move", map[string]interface{}{
		"node_id": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLabel(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/label", map[string]string{
		"node_id": graph.RootNodeID,
		"label":   "the beginning",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	root, _ := store.GetNode(graph.RootNodeID)
	assert.Equal(t, "the beginning", root.Label)

	// Clearing works: an empty label is a real value, not a skipped field.
	rec = doJSON(t, srv, http.MethodPost, "/api/graph/label", map[string]string{
		"node_id": graph.RootNodeID,
		"label":   "",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	root, _ = store.GetNode(graph.RootNodeID)
	assert.Empty(t, root.Label)
}

func TestReset(t *testing.T) {
	srv, store, _ := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/api/graph/branch", map[string]interface{}{
		"parent_id": graph.RootNodeID,
	})
	require.Greater(t, store.NodeCount(), 1)

	rec := doJSON(t, srv, http.MethodPost, "/api/graph/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, graph.RootNodeID, decodeData(t, rec)["root_id"])

	assert.Equal(t, 1, store.NodeCount())
	assert.Equal(t, 0, store.EdgeCount())
	assert.Equal(t, graph.RootNodeID, srv.Focus())

	root, _ := store.GetNode(graph.RootNodeID)
	assert.Equal(t, testGreeting, root.Content)
}

func TestGetGraphDocument(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	nodes := data["nodes"].([]interface{})
	require.Len(t, nodes, 1)
	assert.Equal(t, codec.DocumentVersion, data["version"])
}

func TestGetNodeAndContext(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.AddNode(graph.NewMessageNode("u1", graph.RoleUser, "question", graph.Position{}))
	require.NoError(t, store.AddEdge(graph.NewEdge(graph.RootNodeID, "u1")))

	rec := doJSON(t, srv, http.MethodGet, "/api/graph/node/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, graph.RootNodeID, data["parent_id"])

	rec = doJSON(t, srv, http.MethodGet, "/api/graph/context/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	assert.InDelta(t, 2, data["total"], 0)

	rec = doJSON(t, srv, http.MethodGet, "/api/graph/node/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGraphStats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/graph/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.InDelta(t, 1, data["total_nodes"], 0)
}

func TestNavigateEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.AddNode(graph.NewMessageNode("u1", graph.RoleUser, "q", graph.Position{}))
	require.NoError(t, store.AddEdge(graph.NewEdge(graph.RootNodeID, "u1")))

	// First intent acquires the root.
	rec := doJSON(t, srv, http.MethodPost, "/api/nav", map[string]string{"intent": "child"})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, graph.RootNodeID, data["focus_id"])
	assert.Equal(t, false, data["moved"])

	// Second intent travels.
	rec = doJSON(t, srv, http.MethodPost, "/api/nav", map[string]string{"intent": "child"})
	data = decodeData(t, rec)
	assert.Equal(t, "u1", data["focus_id"])
	assert.Equal(t, true, data["moved"])
	assert.Equal(t, "u1", srv.Focus())

	rec = doJSON(t, srv, http.MethodPost, "/api/nav", map[string]string{"intent": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportAndImportRoundTrip(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.AddNode(graph.NewMessageNode("u1", graph.RoleUser, "kept", graph.Position{X: 9}))
	require.NoError(t, store.AddEdge(graph.NewEdge(graph.RootNodeID, "u1")))

	rec := doJSON(t, srv, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	exported := rec.Body.Bytes()

	// Wipe, then import the exported document.
	doJSON(t, srv, http.MethodPost, "/api/graph/reset", nil)
	require.Equal(t, 1, store.NodeCount())

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(exported))
	imp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(imp, req)
	require.Equal(t, http.StatusOK, imp.Code)

	assert.Equal(t, 2, store.NodeCount())
	u1, ok := store.GetNode("u1")
	require.True(t, ok)
	assert.Equal(t, "kept", u1.Content)
	assert.Empty(t, srv.Focus())
}

func TestImportMalformedLeavesGraphUntouched(t *testing.T) {
	srv, store, _ := newTestServer(t)
	store.AddNode(graph.NewMessageNode("u1", graph.RoleUser, "still here", graph.Position{}))
	before := store.NodeCount()

	for _, payload := range []string{
		`{"edges": []}`,
		`{"nodes": [{"id":"a","data":{}}], "edges": [{"id":"e","source":"a","target":"missing"}]}`,
		`not json at all`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "payload: %s", payload)
	}

	assert.Equal(t, before, store.NodeCount())
	_, ok := store.GetNode("u1")
	assert.True(t, ok)
}

func TestExportClipboardIsPrettyJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/export/clipboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\n  \"nodes\"")
}

func TestInvalidBodyRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/graph/branch",
		bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/graph", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/%s", "nope"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
