// Package evolution maintains the process-wide population of strategy
// variants, one per participating node, with running-average fitness
// scores and a monotonically increasing generation counter.
//
// The population mutates only at round completion. A successful round
// updates every participating variant's fitness through a pluggable
// monotone scorer and advances the generation exactly once; a failed
// round is recorded for audit and changes nothing else. The generation
// counter never decreases and never skips.
package evolution
