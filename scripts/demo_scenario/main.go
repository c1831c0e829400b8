// ---------------------------------------------------------------------------
// scripts/demo_scenario/main.go — Scripted canvas walkthrough
//
// Drives a running canopy server through a complete session: reset, branch,
// submit, a parallel side branch, keyboard navigation, labelling, and a
// final export. Intended for demos and as an end-to-end smoke check.
//
// Usage:
//   go run ./scripts/demo_scenario --server http://localhost:8080
//
// Flags:
//   --server  Base URL of the canopy server  (default: http://localhost:8080)
//   --pause   Pause between phases in seconds (default: 2)
// ---------------------------------------------------------------------------
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// ANSI colour helpers
// ---------------------------------------------------------------------------

const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"
	red   = "\033[31m"
	green = "\033[32m"
	cyan  = "\033[36m"
	white = "\033[37m"
)

func colour(c, s string) string { return c + s + reset }

func header(phase int, msg string) {
	bar := strings.Repeat("━", 60)
	fmt.Println()
	fmt.Println(colour(dim, bar))
	fmt.Printf("  %s  %s\n", colour(bold+cyan, fmt.Sprintf("Phase %d/6", phase)), colour(bold+white, msg))
	fmt.Println(colour(dim, bar))
}

func step(msg string) { fmt.Printf("  %s %s\n", colour(green, "✓"), msg) }

func fail(msg string, err error) {
	fmt.Printf("  %s %s: %v\n", colour(red, "✗"), msg, err)
	os.Exit(1)
}

// ---------------------------------------------------------------------------
// API client
// ---------------------------------------------------------------------------

type client struct {
	base string
	http *http.Client
}

// dataResp matches the {"data": {...}} envelope of every engine response.
type dataResp struct {
	Data map[string]interface{} `json:"data"`
}

func (c *client) post(path string, body interface{}) (map[string]interface{}, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	var out dataResp
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *client) get(path string) (map[string]interface{}, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	var out dataResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// branchAndSubmit runs the full gesture pair and returns the user node id.
func (c *client) branchAndSubmit(parentID, text string, x, y float64) string {
	data, err := c.post("/api/graph/branch", map[string]interface{}{
		"parent_id": parentID,
		"position":  map[string]float64{"x": x, "y": y},
	})
	if err != nil {
		fail("branch", err)
	}
	pendingID := data["pending_id"].(string)

	if _, err := c.post("/api/graph/submit", map[string]string{
		"node_id": pendingID,
		"text":    text,
	}); err != nil {
		fail("submit", err)
	}
	step(fmt.Sprintf("submitted %q as %s", text, pendingID))
	return pendingID
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	server := flag.String("server", "http://localhost:8080", "canopy server URL")
	pause := flag.Int("pause", 2, "Pause between phases in seconds")
	flag.Parse()

	c := &client{base: *server, http: &http.Client{Timeout: 30 * time.Second}}
	wait := func() { time.Sleep(time.Duration(*pause) * time.Second) }

	header(1, "Fresh conversation")
	data, err := c.post("/api/graph/reset", nil)
	if err != nil {
		fail("reset", err)
	}
	rootID := data["root_id"].(string)
	step("reset, root is " + rootID)
	wait()

	header(2, "Main thread")
	u1 := c.branchAndSubmit(rootID, "Explain how goroutines are scheduled.", 0, 200)
	wait()

	header(3, "Side branch off the same root")
	c.branchAndSubmit(rootID, "Give me the same explanation as a haiku.", 450, 200)
	wait()

	header(4, "Label the first thread")
	if _, err := c.post("/api/graph/label", map[string]string{
		"node_id": u1,
		"label":   "scheduler deep dive",
	}); err != nil {
		fail("label", err)
	}
	step("labelled " + u1)
	wait()

	header(5, "Keyboard navigation")
	for _, intent := range []string{"root", "child", "next_sibling", "latest"} {
		data, err := c.post("/api/nav", map[string]string{"intent": intent})
		if err != nil {
			fail("nav "+intent, err)
		}
		step(fmt.Sprintf("%-13s -> focus %v (moved=%v)", intent, data["focus_id"], data["moved"]))
		time.Sleep(400 * time.Millisecond)
	}
	wait()

	header(6, "Export")
	doc, err := c.get("/api/graph")
	if err != nil {
		fail("fetch graph", err)
	}
	nodes := doc["nodes"].([]interface{})
	edges := doc["edges"].([]interface{})
	step(fmt.Sprintf("final document: %d nodes, %d edges, version %v",
		len(nodes), len(edges), doc["version"]))

	fmt.Println()
	fmt.Println(colour(bold+green, "  demo complete"))
}
