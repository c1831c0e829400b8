// ===========================================================================
// scripts/generate_demo_data/main.go — Generate a demo conversation database
//
// Builds a branching conversation (one main thread plus side branches with
// canned Q&A) and persists it as the conversation slot of a fresh SQLite
// database, ready for the server to restore on startup.
//
// Usage:
//   go run ./scripts/generate_demo_data --db-path ./canopy-demo.db
// ===========================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/canopy-chat/canopy/internal/codec"
	"github.com/canopy-chat/canopy/internal/graph"
	"github.com/canopy-chat/canopy/internal/storage"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	dbPath   = flag.String("db-path", "./canopy-demo.db", "Output SQLite database path")
	branches = flag.Int("branches", 3, "Number of side branches off the main thread")
	seed     = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// ---------------------------------------------------------------------------
// Canned Q&A material
// ---------------------------------------------------------------------------

var questions = []string{
	"What are goroutines and how do they differ from OS threads?",
	"When should I use channels versus mutexes?",
	"How does the garbage collector decide when to run?",
	"What does 'accept interfaces, return structs' mean in practice?",
	"Why does append sometimes return a new slice?",
	"How do I handle errors across API boundaries?",
	"What is the context package actually for?",
	"How do build tags work?",
}

var answers = []string{
	"Goroutines are lightweight, multiplexed onto OS threads by the runtime scheduler; stacks start small and grow on demand.",
	"Use channels to transfer ownership of data, mutexes to guard shared state in place. Neither is superior, they solve different shapes of problem.",
	"The collector is triggered by heap growth relative to the live set after the previous cycle, tunable via GOGC.",
	"Functions should ask for the narrowest interface they need and give back concrete types so callers keep full method sets.",
	"When the backing array runs out of capacity, append allocates a larger one and copies. Keep the returned slice, always.",
	"Wrap with %w at each layer that adds context, and let callers test with errors.Is or errors.As instead of string matching.",
	"Cancellation, deadlines, and request-scoped values that must cross API boundaries together with the call.",
	"A //go:build line before the package clause selects files per platform or tag at compile time, not at runtime.",
}

var followups = []string{
	"Can you show a short example?",
	"What are the common mistakes people make with this?",
	"How does this interact with testing?",
	"Does this change in recent Go versions?",
}

// ---------------------------------------------------------------------------
// Graph construction
// ---------------------------------------------------------------------------

// link attaches child below parent and panics on invariant violations, which
// in a generator means a bug, not bad input.
func link(store *graph.Store, parentID string, child *graph.Node) {
	store.AddNode(child)
	if err := store.AddEdge(graph.NewEdge(parentID, child.ID)); err != nil {
		log.Fatalf("link %s -> %s: %v", parentID, child.ID, err)
	}
}

func buildConversation(rng *rand.Rand, sideBranches int) *graph.Store {
	store := graph.NewStore()
	root := store.SeedRoot("Hello! Drag a connection from me to start a thread.")

	// Main thread: three alternating user/assistant exchanges straight down.
	parentID := root.ID
	y := 0.0
	for i := 0; i < 3; i++ {
		y += 160
		q := graph.NewMessageNode("", graph.RoleUser, questions[i], graph.Position{X: 0, Y: y})
		link(store, parentID, q)

		y += 160
		a := graph.NewMessageNode("", graph.RoleAssistant, answers[i], graph.Position{X: 0, Y: y})
		link(store, q.ID, a)
		parentID = a.ID
	}

	// Side branches: follow-up threads hanging off the main-thread answers.
	snap := store.Snapshot()
	var anchorIDs []string
	for _, n := range snap.Nodes {
		if n.Role == graph.RoleAssistant && !n.IsRoot() {
			anchorIDs = append(anchorIDs, n.ID)
		}
	}

	for i := 0; i < sideBranches && len(anchorIDs) > 0; i++ {
		anchor := anchorIDs[rng.Intn(len(anchorIDs))]
		anchorNode, _ := store.GetNode(anchor)
		x := anchorNode.Position.X + float64(400*(i+1))

		q := graph.NewMessageNode("", graph.RoleUser,
			followups[rng.Intn(len(followups))],
			graph.Position{X: x, Y: anchorNode.Position.Y + 160})
		q.Label = fmt.Sprintf("side thread %d", i+1)
		link(store, anchor, q)

		a := graph.NewMessageNode("", graph.RoleAssistant,
			answers[3+rng.Intn(len(answers)-3)],
			graph.Position{X: x, Y: anchorNode.Position.Y + 320})
		link(store, q.ID, a)
	}

	// One unsubmitted prompt so the demo opens with a live input box.
	pending := graph.NewPendingNode(graph.Position{X: -400, Y: 200})
	link(store, root.ID, pending)

	store.SetViewport(graph.Viewport{X: 0, Y: 0, Zoom: 0.8})
	return store
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	flag.Parse()

	if _, err := os.Stat(*dbPath); err == nil {
		log.Fatalf("refusing to overwrite existing database %s", *dbPath)
	}

	rng := rand.New(rand.NewSource(*seed))
	store := buildConversation(rng, *branches)

	data, err := codec.Encode(codec.Serialize(store.Snapshot()))
	if err != nil {
		log.Fatalf("serialize conversation: %v", err)
	}

	durable, err := storage.New(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer durable.Close()

	if err := durable.SaveSlot(context.Background(), storage.ConversationSlot, string(data)); err != nil {
		log.Fatalf("save conversation slot: %v", err)
	}

	fmt.Printf("wrote %s: %d nodes, %d edges, %d bytes\n",
		*dbPath, store.NodeCount(), store.EdgeCount(), len(data))
	fmt.Println("start the server with --db-path", *dbPath, "to load it")
}
