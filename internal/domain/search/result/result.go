package result

// Scored is a single hit from one retrieval backend.
// ID is unique within one backend list only; RawScore scales differ per backend.
type Scored struct {
	ID       string
	RawScore float64
}

// Fused is an entry of the combined ranking. Score is a ranking key and may exceed 1.
type Fused struct {
	ID    string
	Score float64
}
