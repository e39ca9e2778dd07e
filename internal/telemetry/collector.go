package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one structured telemetry record.
// Ephemeral in memory, durable in the JSONL log. Never mutated after
// emission.
type Event struct {
	Timestamp int64          `json:"timestamp"`
	NodeID    string         `json:"node_id"`
	Name      string         `json:"name"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Collector is a local JSONL telemetry sink with an in-memory tail for
// queries.
//
// Thread-safety: Emit and Events are safe for concurrent use.
type Collector struct {
	nodeID string
	now    func() time.Time

	mu     sync.Mutex
	file   *os.File
	events []Event
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithNow overrides the wall clock. Used by tests for deterministic
// timestamps.
func WithNow(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector creates a collector for nodeID. If dir is non-empty the
// collector appends each event to dir/telemetry.jsonl; an empty dir
// keeps events in memory only (tests, ephemeral runs).
func NewCollector(nodeID, dir string, opts ...CollectorOption) (*Collector, error) {
	c := &Collector{
		nodeID: nodeID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open telemetry log: %w", err)
		}
		c.file = f
	}
	return c, nil
}

// Emit appends one event. Write failures are swallowed after the
// in-memory append: telemetry must never fail the operation it
// observes.
func (c *Collector) Emit(ev Event) {
	ev.Timestamp = c.now().UnixMilli()
	ev.NodeID = c.nodeID

	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, ev)
	if c.file != nil {
		if line, err := json.Marshal(ev); err == nil {
			c.file.Write(append(line, '\n'))
		}
	}
}

// Decision is a convenience for emitting a policy/round/settlement
// decision record.
func (c *Collector) Decision(name, actor, action, outcome, reason string) {
	c.Emit(Event{Name: name, Actor: actor, Action: action, Outcome: outcome, Reason: reason})
}

// Events returns the most recent events, optionally filtered by name.
// A limit <= 0 returns everything retained.
func (c *Collector) Events(name string, limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched := make([]Event, 0, len(c.events))
	for _, ev := range c.events {
		if name == "" || ev.Name == name {
			matched = append(matched, ev)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Count returns the number of events emitted so far.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Close releases the log file, if any.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
