// Package autosave debounces graph mutations into durable-store writes.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQuietPeriod is the delay between the last mutation in a burst and
// the write it triggers.
const DefaultQuietPeriod = 500 * time.Millisecond

const writeTimeout = 5 * time.Second

// SnapshotFunc produces the serialized form of the latest committed graph
// snapshot. It is called at fire time, never at request time, so the write
// always reflects a state that was actually committed.
type SnapshotFunc func() ([]byte, error)

// WriteFunc persists one serialized snapshot.
type WriteFunc func(ctx context.Context, data []byte) error

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler is an explicit pending-write scheduler: every mutation submits
// a request, a single timer fires after the quiet period, superseding
// requests cancel the scheduled fire, and only the last write in a burst
// executes. Persistence is best-effort — failures are logged and swallowed,
// and a request never blocks the mutation that raised it.
type Scheduler struct {
	quiet    time.Duration
	snapshot SnapshotFunc
	write    WriteFunc

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler. A non-positive quiet period falls back to
// DefaultQuietPeriod.
func New(quiet time.Duration, snapshot SnapshotFunc, write WriteFunc) *Scheduler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Scheduler{
		quiet:    quiet,
		snapshot: snapshot,
		write:    write,
	}
}

// Request schedules a write after the quiet period, superseding any write
// already scheduled. Safe to call from mutation listeners.
func (s *Scheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, s.fire)
}

// fire serializes the latest snapshot and writes it.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.persist()
}

// Flush cancels any scheduled write and persists immediately. Used on
// shutdown so the final state survives the process.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.persist()
}

// Close stops the scheduler. Pending timer fires are cancelled; an
// in-progress write is allowed to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) persist() {
	data, err := s.snapshot()
	if err != nil {
		slog.Error("autosave serialize failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.write(ctx, data); err != nil {
		slog.Error("autosave write failed", "error", err)
		return
	}
	slog.Debug("autosave write complete", "bytes", len(data))
}
