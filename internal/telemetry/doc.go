// Package telemetry provides the append-only event sink and the
// operational metric set for an omniswarm node.
//
// Every policy decision, round outcome, and settlement outcome is
// appended as a structured record (actor, action, timestamp, outcome,
// reason). The JSONL log is the audit trail consumed by dispute
// resolution; the prometheus registry carries the counters consumed by
// monitoring.
package telemetry
