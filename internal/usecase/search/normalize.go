package search

import "github.com/cloudcurio/kbsearch/internal/domain/search/result"

// Normalize maps raw scores of one backend list onto [0, 1] by min-max scaling.
// When every raw score is equal (including a single item) all scores are 0.
// A repeated ID keeps the score of its last occurrence.
func Normalize(items []result.Scored) map[string]float64 {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out
	}

	lo, hi := items[0].RawScore, items[0].RawScore
	for _, it := range items[1:] {
		lo = min(lo, it.RawScore)
		hi = max(hi, it.RawScore)
	}

	span := hi - lo
	for _, it := range items {
		if span == 0 {
			out[it.ID] = 0
			continue
		}
		out[it.ID] = (it.RawScore - lo) / span
	}
	return out
}
