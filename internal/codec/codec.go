// Package codec serializes the conversation graph to the versioned JSON
// document format shared by the durable store, the file export, and the
// clipboard sink, and restores it. The document is pure data: nothing
// callback-shaped is written, and a restored pending prompt stays
// interactive because the branch controller derives its behavior from the
// node id and its incoming edge alone.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-chat/canopy/internal/graph"
)

// DocumentVersion is written as a fixed literal on every serialize.
// Deserialize ignores it — a forward-compatibility placeholder, not an
// enforced contract.
const DocumentVersion = "1.0"

// ErrMalformedDocument is returned when a document is structurally invalid:
// missing or ill-formed nodes/edges arrays, or entries without an id.
// No partial restore is ever committed.
var ErrMalformedDocument = errors.New("codec: malformed document")

// ---------------------------------------------------------------------------
// Wire format
// ---------------------------------------------------------------------------

// Wire node types. Pending prompts serialize as "inputNode", matching what
// the rendering surface registers for the prompt-entry widget.
const (
	wireTypeMessage = "message"
	wireTypeInput   = "inputNode"
)

// WireNode is the on-disk shape of one node.
type WireNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position graph.Position `json:"position"`
	Data     WireNodeData   `json:"data"`
}

// WireNodeData carries the data-safe node fields. Transient measured
// geometry and live prompt text never appear here.
type WireNodeData struct {
	Role      graph.Role `json:"role,omitempty"`
	Content   string     `json:"content"`
	Timestamp int64      `json:"timestamp"`
	IsInput   bool       `json:"isInput,omitempty"`
	Label     string     `json:"label,omitempty"`
}

// WireEdge is the on-disk shape of one edge.
type WireEdge struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Target    string      `json:"target"`
	Type      string      `json:"type,omitempty"`
	MarkerEnd *WireMarker `json:"markerEnd,omitempty"`
}

// WireMarker is the advisory arrow-head style of an edge.
type WireMarker struct {
	Type string `json:"type"`
}

// Document is the full persisted payload.
type Document struct {
	Nodes      []WireNode     `json:"nodes"`
	Edges      []WireEdge     `json:"edges"`
	Viewport   graph.Viewport `json:"viewport"`
	ExportedAt string         `json:"exportedAt"`
	Version    string         `json:"version"`
}

// ---------------------------------------------------------------------------
// Serialize
// ---------------------------------------------------------------------------

// Serialize converts one atomic snapshot into a Document.
func Serialize(snap *graph.Snapshot) *Document {
	doc := &Document{
		Nodes:      make([]WireNode, 0, len(snap.Nodes)),
		Edges:      make([]WireEdge, 0, len(snap.Edges)),
		Viewport:   snap.Viewport,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    DocumentVersion,
	}

	for _, n := range snap.Nodes {
		wn := WireNode{
			ID:       n.ID,
			Type:     wireTypeMessage,
			Position: n.Position,
			Data: WireNodeData{
				Role:      n.Role,
				Content:   n.Content,
				Timestamp: n.Timestamp,
				Label:     n.Label,
			},
		}
		if n.Kind == graph.NodeKindPending {
			wn.Type = wireTypeInput
			wn.Data.IsInput = true
			wn.Data.Content = "" // live text never reaches the graph
		}
		doc.Nodes = append(doc.Nodes, wn)
	}

	for _, e := range snap.Edges {
		we := WireEdge{
			ID:     e.ID,
			Source: e.Source,
			Target: e.Target,
			Type:   e.RoutingType,
		}
		if e.ArrowStyle != "" {
			we.MarkerEnd = &WireMarker{Type: e.ArrowStyle}
		}
		doc.Edges = append(doc.Edges, we)
	}

	return doc
}

// Encode marshals the document compactly, the form the durable store keeps.
func Encode(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

// EncodePretty marshals the document indented, the form handed to the
// clipboard sink.
func EncodePretty(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// ExportFileName names a file download for the given moment,
// e.g. "conversation-1714691520000.json".
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("conversation-%d.json", t.UnixMilli())
}

// ---------------------------------------------------------------------------
// Deserialize
// ---------------------------------------------------------------------------

// rawDocument distinguishes "field absent" from "empty array" so a document
// without a nodes or edges member is rejected rather than restored empty.
type rawDocument struct {
	Nodes    *[]WireNode     `json:"nodes"`
	Edges    *[]WireEdge     `json:"edges"`
	Viewport *graph.Viewport `json:"viewport"`
	Version  string          `json:"version"`
}

// Deserialize parses and validates a document, returning the graph state
// ready for Store.SetAll. The version field is read but not enforced.
func Deserialize(data []byte) ([]*graph.Node, []*graph.Edge, graph.Viewport, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, graph.Viewport{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if raw.Nodes == nil || raw.Edges == nil {
		return nil, nil, graph.Viewport{}, fmt.Errorf("%w: missing nodes or edges", ErrMalformedDocument)
	}

	nodes := make([]*graph.Node, 0, len(*raw.Nodes))
	for i, wn := range *raw.Nodes {
		if wn.ID == "" {
			return nil, nil, graph.Viewport{}, fmt.Errorf("%w: node %d has no id", ErrMalformedDocument, i)
		}
		n := &graph.Node{
			ID:        wn.ID,
			Kind:      graph.NodeKindMessage,
			Role:      wn.Data.Role,
			Content:   wn.Data.Content,
			Timestamp: wn.Data.Timestamp,
			Label:     wn.Data.Label,
			Position:  wn.Position,
		}
		if wn.Type == wireTypeInput || wn.Data.IsInput {
			n.Kind = graph.NodeKindPending
			n.Role = graph.RoleUser
			n.Content = ""
		}
		nodes = append(nodes, n)
	}

	edges := make([]*graph.Edge, 0, len(*raw.Edges))
	for i, we := range *raw.Edges {
		if we.ID == "" || we.Source == "" || we.Target == "" {
			return nil, nil, graph.Viewport{}, fmt.Errorf("%w: edge %d is incomplete", ErrMalformedDocument, i)
		}
		e := &graph.Edge{
			ID:          we.ID,
			Source:      we.Source,
			Target:      we.Target,
			RoutingType: we.Type,
		}
		if we.MarkerEnd != nil {
			e.ArrowStyle = we.MarkerEnd.Type
		}
		edges = append(edges, e)
	}

	vp := graph.DefaultViewport()
	if raw.Viewport != nil {
		vp = *raw.Viewport
	}

	return nodes, edges, vp, nil
}
