package branch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/canopy-chat/canopy/internal/ai"
	"github.com/canopy-chat/canopy/internal/graph"
)

// ---------------------------------------------------------------------------
// Broadcaster interface — avoids circular import with api package
// ---------------------------------------------------------------------------

// Broadcaster is a minimal interface for pushing events to connected
// clients. The api.SSEBroadcaster satisfies it through an adapter.
type Broadcaster interface {
	Broadcast(event BroadcastEvent)
}

// BroadcastEvent mirrors api.SSEEvent without importing the api package.
type BroadcastEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

const (
	// PlaceholderContent fills the assistant node between submit and reply.
	PlaceholderContent = "Thinking..."

	// ErrorContent replaces the placeholder when the backend fails. Both
	// transport failures and model rejections fold into the same visible
	// text; only the log distinguishes them.
	ErrorContent = "Could not fetch response. Please try again."

	// replyOffsetY positions the assistant node below its user node.
	replyOffsetY = 140.0

	// generateTimeout bounds a single backend call.
	generateTimeout = 120 * time.Second
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrNotPending is returned when Submit or Cancel addresses a node
	// that is not an unsubmitted prompt.
	ErrNotPending = errors.New("branch: node is not a pending prompt")

	// ErrPendingParent is returned when a branch is started from a node
	// that is itself still a pending prompt.
	ErrPendingParent = errors.New("branch: cannot branch from a pending prompt")

	// ErrEmptyPrompt is returned by Submit for all-whitespace text.
	ErrEmptyPrompt = errors.New("branch: prompt text is empty")
)

// ---------------------------------------------------------------------------
// Controller
// ---------------------------------------------------------------------------

// Controller owns the two node lifecycle transitions that touch the model
// backend. It is stateless beyond its collaborators: everything a submit
// needs is derived from the node id and its incoming edge at call time, so
// pending prompts restored from a persisted document are just as
// submittable as freshly created ones.
type Controller struct {
	store       *graph.Store
	provider    ai.Provider // nil when no backend is configured
	opts        ai.GenerateOptions
	broadcaster Broadcaster

	wg sync.WaitGroup
}

// NewController creates a Controller. provider may be nil — submits then
// resolve immediately with the error content. broadcaster may be nil.
func NewController(store *graph.Store, provider ai.Provider, opts ai.GenerateOptions, broadcaster Broadcaster) *Controller {
	return &Controller{
		store:       store,
		provider:    provider,
		opts:        opts,
		broadcaster: broadcaster,
	}
}

// StartBranch creates a pending prompt node at dropPos with an edge from
// parentID. No backend call happens here.
func (c *Controller) StartBranch(parentID string, dropPos graph.Position) (string, error) {
	parent, ok := c.store.GetNode(parentID)
	if !ok {
		return "", fmt.Errorf("start branch from %q: %w", parentID, graph.ErrNodeNotFound)
	}
	if parent.IsPending() {
		return "", fmt.Errorf("start branch from %q: %w", parentID, ErrPendingParent)
	}

	pending := graph.NewPendingNode(dropPos)
	c.store.AddNode(pending)
	if err := c.store.AddEdge(graph.NewEdge(parentID, pending.ID)); err != nil {
		// Keep the invariant: a pending prompt always has its parent edge.
		_ = c.store.RemoveNode(pending.ID)
		return "", fmt.Errorf("start branch from %q: %w", parentID, err)
	}
	return pending.ID, nil
}

// Cancel removes an unsubmitted prompt node and its parent edge. The rest
// of the graph is untouched.
func (c *Controller) Cancel(pendingID string) error {
	n, ok := c.store.GetNode(pendingID)
	if !ok {
		return fmt.Errorf("cancel %q: %w", pendingID, graph.ErrNodeNotFound)
	}
	if !n.IsPending() {
		return fmt.Errorf("cancel %q: %w", pendingID, ErrNotPending)
	}
	return c.store.RemoveNode(pendingID)
}

// Submit converts the pending prompt into a user message, creates the
// assistant placeholder, and kicks off the backend call. The placeholder
// is committed before this function returns, so the caller sees it
// regardless of backend latency; the reply arrives through the store later.
// Returns the assistant node id.
func (c *Controller) Submit(ctx context.Context, pendingID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}

	n, ok := c.store.GetNode(pendingID)
	if !ok {
		return "", fmt.Errorf("submit %q: %w", pendingID, graph.ErrNodeNotFound)
	}
	if !n.IsPending() {
		return "", fmt.Errorf("submit %q: %w", pendingID, ErrNotPending)
	}

	// Step 1: flip the pending node in place — same id, kind and content
	// change, the one-time conversion.
	kind := graph.NodeKindMessage
	role := graph.RoleUser
	if err := c.store.ReplaceNodeData(pendingID, graph.NodePatch{
		Kind:    &kind,
		Role:    &role,
		Content: &text,
	}); err != nil {
		return "", err
	}

	// Step 2: the parent is whatever the incoming edge says right now.
	parentID := ""
	if e := c.store.ParentEdge(pendingID); e != nil {
		parentID = e.Source
	}

	// Step 3: assistant placeholder below the user node, linked to it.
	assistant := graph.NewMessageNode("", graph.RoleAssistant, PlaceholderContent, graph.Position{
		X: n.Position.X,
		Y: n.Position.Y + replyOffsetY,
	})
	c.store.AddNode(assistant)
	if err := c.store.AddEdge(graph.NewEdge(pendingID, assistant.ID)); err != nil {
		return "", fmt.Errorf("submit %q: attach assistant: %w", pendingID, err)
	}

	// Step 4: context = ancestors of the parent plus the new user turn.
	turns := c.store.ResolveContext(parentID)
	turns = append(turns, graph.Turn{Role: graph.RoleUser, Content: text})

	c.wg.Add(1)
	go c.fetchReply(ctx, assistant.ID, turns)

	return assistant.ID, nil
}

// InFlightWait blocks until every spawned backend call has written its
// result. Used by graceful shutdown.
func (c *Controller) InFlightWait() {
	c.wg.Wait()
}

// ---------------------------------------------------------------------------
// Reply handling
// ---------------------------------------------------------------------------

// fetchReply runs the backend call and writes the result to the assistant
// node. The write targets an id: if the node has been removed in the
// meantime (a reset fired while the call was in flight) the write is a
// deliberate no-op.
func (c *Controller) fetchReply(ctx context.Context, assistantID string, turns []graph.Turn) {
	defer c.wg.Done()

	content := ErrorContent
	if c.provider == nil {
		slog.Warn("no model backend configured, writing error content",
			"node_id", assistantID)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, generateTimeout)
		defer cancel()

		msg, err := c.provider.Generate(callCtx, toMessages(turns), c.opts)
		if err != nil {
			slog.Error("backend call failed",
				"node_id", assistantID,
				"failure", classifyFailure(err),
				"provider", c.provider.Name(),
				"error", err,
			)
		} else {
			content = msg.Content
		}
	}

	c.writeReply(assistantID, content)
}

// writeReply performs the exactly-once content replacement.
func (c *Controller) writeReply(assistantID, content string) {
	err := c.store.ReplaceNodeData(assistantID, graph.NodePatch{Content: &content})
	if errors.Is(err, graph.ErrNodeNotFound) {
		// Node was deleted while the call was in flight; intentional no-op.
		slog.Debug("reply target gone, dropping write", "node_id", assistantID)
		return
	}
	if err != nil {
		slog.Error("reply write failed", "node_id", assistantID, "error", err)
		return
	}

	if c.broadcaster != nil {
		c.broadcaster.Broadcast(BroadcastEvent{
			Event: "node:updated",
			Data: map[string]interface{}{
				"node_id": assistantID,
				"content": content,
			},
		})
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func toMessages(turns []graph.Turn) []ai.Message {
	out := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, ai.Message{
			Role:    ai.Role(t.Role),
			Content: t.Content,
		})
	}
	return out
}

// classifyFailure separates transport failure from model rejection for the
// log line. The user-visible content is the same either way.
func classifyFailure(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return "backend_unavailable"
	}
	return "backend_rejected"
}
