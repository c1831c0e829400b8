package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-chat/canopy/internal/branch"
	"github.com/canopy-chat/canopy/internal/graph"
)

func TestBroadcastReachesAllClients(t *testing.T) {
	b := NewSSEBroadcaster()
	c1 := b.Subscribe("one")
	c2 := b.Subscribe("two")
	defer b.Unsubscribe("one")
	defer b.Unsubscribe("two")

	require.Equal(t, 2, b.ClientCount())

	b.Broadcast(SSEEvent{Event: "ping", Data: "x"})

	for _, ch := range []chan SSEEvent{c1, c2} {
		select {
		case evt := <-ch:
			assert.Equal(t, "ping", evt.Event)
		case <-time.After(time.Second):
			t.Fatal("event never arrived")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewSSEBroadcaster()
	ch := b.Subscribe("c")
	b.Unsubscribe("c")

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.ClientCount())

	// Idempotent.
	b.Unsubscribe("c")
}

func TestSlowClientDoesNotBlockBroadcast(t *testing.T) {
	b := NewSSEBroadcaster()
	b.Subscribe("slow")
	defer b.Unsubscribe("slow")

	done := make(chan struct{})
	go func() {
		// More events than the channel buffers; the overflow is dropped.
		for i := 0; i < 200; i++ {
			b.Broadcast(SSEEvent{Event: "burst"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestGraphBroadcasterAdapter(t *testing.T) {
	b := NewSSEBroadcaster()
	ch := b.Subscribe("c")
	defer b.Unsubscribe("c")

	NewGraphBroadcaster(b).Broadcast(branch.BroadcastEvent{
		Event: "node:updated",
		Data:  map[string]string{"node_id": "a"},
	})

	evt := <-ch
	assert.Equal(t, "node:updated", evt.Event)
}

func TestBroadcastMutation(t *testing.T) {
	b := NewSSEBroadcaster()
	ch := b.Subscribe("c")
	defer b.Unsubscribe("c")

	b.BroadcastMutation(graph.Mutation{Op: graph.OpAddNode, ID: "n1"})

	evt := <-ch
	assert.Equal(t, "graph:mutated", evt.Event)
	m, ok := evt.Data.(graph.Mutation)
	require.True(t, ok)
	assert.Equal(t, graph.OpAddNode, m.Op)
	assert.Equal(t, "n1", m.ID)
}
