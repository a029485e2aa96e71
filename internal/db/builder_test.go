package db

import (
	"strings"
	"testing"
)

func mustBuild(t *testing.T, b *IndexBuilder) *IndexDefinition {
	t.Helper()
	idx, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestIndexBuilder_DocumentSchema(t *testing.T) {
	idx := mustBuild(t, NewIndex("kb_docs").
		Prefix("kb:doc:").
		TextWeighted("title", 2).
		Text("text").
		Tag("language").
		VectorHNSW("__vector", 384, DistanceCosine, 16, 200))

	if len(idx.Fields) != 4 {
		t.Fatalf("fields count = %d, want 4", len(idx.Fields))
	}
	if idx.Fields[0].TextWeight != 2 {
		t.Errorf("title weight = %v, want 2", idx.Fields[0].TextWeight)
	}
	if idx.Fields[1].TextWeight != 0 {
		t.Errorf("text weight = %v, want default", idx.Fields[1].TextWeight)
	}
	if idx.Fields[2].Type != IndexFieldTag {
		t.Errorf("language type = %v, want TAG", idx.Fields[2].Type)
	}
	v := idx.Fields[3]
	if v.VectorAlgo != VectorHNSW || v.VectorDim != 384 || v.VectorM != 16 || v.VectorEFConstruct != 200 {
		t.Errorf("unexpected vector field: %+v", v)
	}
}

func TestIndexBuilder_VectorFlat(t *testing.T) {
	idx := mustBuild(t, NewIndex("vec-idx").
		Prefix("emb:").
		VectorFlat("embedding", 1536, DistanceCosine))

	f := idx.Fields[0]
	if f.VectorAlgo != VectorFlat {
		t.Errorf("algo = %q, want FLAT", f.VectorAlgo)
	}
	if f.VectorDistance != DistanceCosine {
		t.Errorf("distance = %q, want COSINE", f.VectorDistance)
	}
}

func TestIndexBuilder_MultiplePrefixes(t *testing.T) {
	idx := mustBuild(t, NewIndex("multi-idx").
		Prefix("a:", "b:", "c:").
		Tag("x"))

	if len(idx.Prefixes) != 3 {
		t.Errorf("prefix count = %d, want 3", len(idx.Prefixes))
	}
}

func TestIndexBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() (*IndexDefinition, error)
		wantErr string
	}{
		{
			name: "empty name",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("").Tag("x").Build()
			},
			wantErr: "index name is required",
		},
		{
			name: "no fields",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Build()
			},
			wantErr: "at least one field",
		},
		{
			name: "vector without dim",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").VectorFlat("v", 0, DistanceCosine).Build()
			},
			wantErr: "positive DIM",
		},
		{
			name: "negative weight",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").TextWeighted("title", -1).Build()
			},
			wantErr: "weight",
		},
		{
			name: "invalid characters",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx with spaces").Tag("x").Build()
			},
			wantErr: "invalid characters",
		},
		{
			name: "duplicate field",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Text("title").Tag("title").Build()
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndexDefinition_String(t *testing.T) {
	idx := mustBuild(t, NewIndex("my-idx").
		Prefix("doc:").
		TextWeighted("title", 2).
		VectorFlat("vec", 512, DistanceCosine))

	want := "FT.CREATE my-idx ON HASH PREFIX doc: SCHEMA title TEXT WEIGHT 2 vec VECTOR FLAT"
	if s := idx.String(); s != want {
		t.Errorf("String() = %q, want %q", s, want)
	}
}

func TestIsValidIdentifier(t *testing.T) {
	for _, s := range []string{"kb_docs", "kb:docs", "a-b-1"} {
		if !IsValidIdentifier(s) {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []string{"", "a b", "a.b", "a/b"} {
		if IsValidIdentifier(s) {
			t.Errorf("%q should be invalid", s)
		}
	}
}
