package swarm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// Executor is the external task-execution capability. The task content
// itself, simulated or otherwise, lives behind this boundary; the
// orchestrator only sees the returned contribution value and metadata.
type Executor interface {
	Execute(ctx context.Context, task Task, nodeID string) (Contribution, error)
}

// SimExecutor produces deterministic simulated contributions. The value
// is derived from a hash of the task and node ids, so repeated runs of
// the same round yield identical contributions without any real task
// content.
type SimExecutor struct {
	maxValue int64
	delay    time.Duration
	now      func() time.Time
}

// SimOption configures a SimExecutor.
type SimOption func(*SimExecutor)

// WithSimDelay makes each execution sleep, for exercising timeouts.
func WithSimDelay(d time.Duration) SimOption {
	return func(e *SimExecutor) { e.delay = d }
}

// WithSimNow overrides the contribution timestamp clock.
func WithSimNow(now func() time.Time) SimOption {
	return func(e *SimExecutor) { e.now = now }
}

// NewSimExecutor creates a simulated executor. Contribution values fall
// in [1, maxValue].
func NewSimExecutor(maxValue int64, opts ...SimOption) *SimExecutor {
	if maxValue < 1 {
		maxValue = 1
	}
	e := &SimExecutor{maxValue: maxValue, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute returns the deterministic contribution for (task, node).
func (e *SimExecutor) Execute(ctx context.Context, task Task, nodeID string) (Contribution, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return Contribution{}, ctx.Err()
		}
	}

	h := sha256.Sum256([]byte(task.ID + "\x00" + nodeID))
	value := int64(binary.BigEndian.Uint64(h[:8])%uint64(e.maxValue)) + 1

	return Contribution{
		TaskID: task.ID,
		NodeID: nodeID,
		Value:  value,
		Metadata: map[string]string{
			"executor": "sim",
		},
		Timestamp: e.now(),
	}, nil
}
