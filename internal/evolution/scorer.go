package evolution

// Scorer maps a contribution value to a fitness score in [0, 1].
// Implementations must be monotone: a higher contribution value never
// yields a lower score.
type Scorer interface {
	Score(value, roundMax int64) float64
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(value, roundMax int64) float64

// Score calls f.
func (f ScorerFunc) Score(value, roundMax int64) float64 {
	return f(value, roundMax)
}

// ProportionalScorer normalizes each contribution by the round's top
// contribution, so the best contributor in a round scores 1.0 and the
// rest score their fraction of it.
func ProportionalScorer() Scorer {
	return ScorerFunc(func(value, roundMax int64) float64 {
		if roundMax <= 0 || value <= 0 {
			return 0
		}
		if value >= roundMax {
			return 1
		}
		return float64(value) / float64(roundMax)
	})
}
