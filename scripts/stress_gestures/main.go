// ===========================================================================
// scripts/stress_gestures/main.go — High-frequency gesture load generator
//
// Hammers a running canopy server with the continuous gestures a rendering
// surface produces during a long drag: node moves and viewport pans. Useful
// for watching the gesture rate limiter and the autosave debounce behave
// under sustained input.
//
// Usage:
//   go run ./scripts/stress_gestures --server http://localhost:8080 --rate 300
// ===========================================================================
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	server   = flag.String("server", "http://localhost:8080", "canopy server URL")
	rate     = flag.Int("rate", 300, "Gestures per second (set above 200 to see 429s)")
	duration = flag.Int("duration", 30, "Run time in seconds")
)

// ---------------------------------------------------------------------------
// Target discovery
// ---------------------------------------------------------------------------

// rootNodeID asks the server for its document and returns the first node id.
func rootNodeID(httpc *http.Client) (string, error) {
	resp, err := httpc.Get(*server + "/api/graph")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Data.Nodes) == 0 {
		return "", fmt.Errorf("server has no nodes")
	}
	return out.Data.Nodes[0].ID, nil
}

func post(httpc *http.Client, path string, body interface{}) (int, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, err
	}
	resp, err := httpc.Post(*server+path, "application/json", &buf)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	flag.Parse()

	httpc := &http.Client{Timeout: 5 * time.Second}

	nodeID, err := rootNodeID(httpc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discover target node: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("dragging node %s at %d gestures/sec for %ds\n", nodeID, *rate, *duration)

	interval := time.Second / time.Duration(*rate)
	deadline := time.Now().Add(time.Duration(*duration) * time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent, ok, limited, failed int
	start := time.Now()

	for now := range ticker.C {
		if now.After(deadline) {
			break
		}
		sent++

		// A circular drag path with some jitter.
		angle := float64(sent) * 0.05
		pos := map[string]float64{
			"x": 300*math.Cos(angle) + rand.Float64()*4,
			"y": 300*math.Sin(angle) + rand.Float64()*4,
		}

		var status int
		if sent%5 == 0 {
			status, err = post(httpc, "/api/graph/viewport",
				map[string]float64{"x": pos["x"], "y": pos["y"], "zoom": 1})
		} else {
			status, err = post(httpc, "/api/graph/move",
				map[string]interface{}{"node_id": nodeID, "position": pos})
		}

		switch {
		case err != nil:
			failed++
		case status == http.StatusTooManyRequests:
			limited++
		case status < 300:
			ok++
		default:
			failed++
		}

		if sent%500 == 0 {
			fmt.Printf("  %6.1fs  sent=%d ok=%d limited=%d failed=%d\n",
				time.Since(start).Seconds(), sent, ok, limited, failed)
		}
	}

	fmt.Printf("\ndone: sent=%d ok=%d rate-limited=%d failed=%d in %.1fs\n",
		sent, ok, limited, failed, time.Since(start).Seconds())
}
