package search

import (
	"cmp"
	"slices"

	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

// Fusion weights. Vector similarity is trusted slightly more than keyword relevance,
// and agreement between both backends earns a flat bonus.
const (
	KeywordWeight  = 0.6
	VectorWeight   = 0.7
	AgreementBonus = 0.2
)

// Fuse combines two normalized score maps into one ranking of at most k items.
// score(id) = 0.6*kw[id] + 0.7*vec[id] + 0.2 if id is in both maps.
// Ties are broken by ascending ID. k <= 0 yields an empty slice.
func Fuse(keyword, vector map[string]float64, k int) []result.Fused {
	if k <= 0 {
		return []result.Fused{}
	}

	fused := make([]result.Fused, 0, len(keyword)+len(vector))
	for id, kw := range keyword {
		if vec, ok := vector[id]; ok {
			fused = append(fused, result.Fused{ID: id, Score: KeywordWeight*kw + VectorWeight*vec + AgreementBonus})
			continue
		}
		fused = append(fused, result.Fused{ID: id, Score: KeywordWeight * kw})
	}
	for id, vec := range vector {
		if _, ok := keyword[id]; ok {
			continue
		}
		fused = append(fused, result.Fused{ID: id, Score: VectorWeight * vec})
	}

	slices.SortFunc(fused, func(a, b result.Fused) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(fused) > k {
		fused = fused[:k]
	}
	return fused
}
