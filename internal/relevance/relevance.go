// Package relevance converts raw vector distances into normalized scores.
package relevance

import "math"

// Scores maps an ordered sequence of raw distances (smaller = more similar)
// to scores in [0,1]: softmax over negated distances, then min-max rescaled
// to fill the full range. Scores are monotonically non-increasing for
// ascending distances, and equal distances get equal scores. A single result,
// or all-equal distances, scores 1.0.
func Scores(distances []float64) []float64 {
	n := len(distances)
	if n == 0 {
		return nil
	}
	scores := make([]float64, n)
	if n == 1 {
		scores[0] = 1.0
		return scores
	}

	// Softmax over negated distances, shifted by the max for stability.
	maxNeg := -distances[0]
	for _, d := range distances[1:] {
		if -d > maxNeg {
			maxNeg = -d
		}
	}
	var sum float64
	for i, d := range distances {
		scores[i] = math.Exp(-d - maxNeg)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if hi == lo {
		for i := range scores {
			scores[i] = 1.0
		}
		return scores
	}
	for i := range scores {
		scores[i] = (scores[i] - lo) / (hi - lo)
	}
	return scores
}
