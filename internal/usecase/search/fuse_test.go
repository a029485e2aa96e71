package search

import (
	"fmt"
	"math"
	"testing"

	"github.com/cloudcurio/kbsearch/internal/domain/search/result"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestFuse_Scores(t *testing.T) {
	a, b, c := 0.5, 0.25, 0.8
	kw := map[string]float64{"both": a, "kwOnly": c}
	vec := map[string]float64{"both": b, "vecOnly": 1.0}

	got := Fuse(kw, vec, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %v", got)
	}

	want := map[string]float64{
		"both":    0.6*a + 0.7*b + 0.2,
		"kwOnly":  0.6 * c,
		"vecOnly": 0.7,
	}
	for _, f := range got {
		if !approx(f.Score, want[f.ID]) {
			t.Errorf("%s: score %v, want %v", f.ID, f.Score, want[f.ID])
		}
	}
}

func TestFuse_BonusAppliesWithZeroScores(t *testing.T) {
	got := Fuse(map[string]float64{"a": 0}, map[string]float64{"a": 0}, 1)
	if len(got) != 1 || !approx(got[0].Score, 0.2) {
		t.Fatalf("expected bonus-only score 0.2, got %v", got)
	}
}

func TestFuse_SortedDescending(t *testing.T) {
	kw := map[string]float64{"a": 0.1, "b": 0.9, "c": 0.5}
	vec := map[string]float64{"d": 0.3}

	got := Fuse(kw, vec, 10)
	for i := 1; i < len(got); i++ {
		if got[i-1].Score < got[i].Score {
			t.Fatalf("not sorted at %d: %v", i, got)
		}
	}
	if got[0].ID != "b" {
		t.Errorf("expected b first, got %v", got)
	}
}

func TestFuse_TieBreakByID(t *testing.T) {
	kw := map[string]float64{"zeta": 1.0, "alpha": 1.0, "mid": 1.0}

	for range 20 {
		got := Fuse(kw, nil, 3)
		if got[0].ID != "alpha" || got[1].ID != "mid" || got[2].ID != "zeta" {
			t.Fatalf("unstable tie-break: %v", got)
		}
	}
}

func TestFuse_Truncation(t *testing.T) {
	kw := map[string]float64{"a": 1, "b": 0.5, "c": 0}
	vec := map[string]float64{"b": 1, "d": 0.2}
	union := 4

	for k := range 7 {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			got := Fuse(kw, vec, k)
			if len(got) != min(k, union) {
				t.Errorf("len = %d, want %d", len(got), min(k, union))
			}
		})
	}
}

func TestFuse_NonPositiveK(t *testing.T) {
	for _, k := range []int{0, -1} {
		got := Fuse(map[string]float64{"a": 1}, nil, k)
		if got == nil || len(got) != 0 {
			t.Errorf("k=%d: expected empty slice, got %v", k, got)
		}
	}
}

func TestFuse_EmptyInputs(t *testing.T) {
	if got := Fuse(nil, nil, 5); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}

func TestFuse_Monotonicity(t *testing.T) {
	base := Fuse(map[string]float64{"x": 0.3}, map[string]float64{"x": 0.4, "y": 1}, 10)
	upKW := Fuse(map[string]float64{"x": 0.6}, map[string]float64{"x": 0.4, "y": 1}, 10)
	upVec := Fuse(map[string]float64{"x": 0.3}, map[string]float64{"x": 0.9, "y": 1}, 10)

	score := func(items []result.Fused, id string) float64 {
		for _, f := range items {
			if f.ID == id {
				return f.Score
			}
		}
		return -1
	}
	if score(upKW, "x") < score(base, "x") {
		t.Errorf("raising keyword score lowered fused score")
	}
	if score(upVec, "x") < score(base, "x") {
		t.Errorf("raising vector score lowered fused score")
	}
}
