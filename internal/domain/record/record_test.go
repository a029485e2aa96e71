package record

import (
	"reflect"
	"testing"
)

func TestParseKind(t *testing.T) {
	for _, s := range []string{"documents", "entities", "relations"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
	}
	for _, s := range []string{"", "docs", "Documents"} {
		if _, err := ParseKind(s); err == nil {
			t.Errorf("ParseKind(%q): expected error", s)
		}
	}
}

func TestColumns_StartWithID(t *testing.T) {
	for _, k := range []Kind{Documents, Entities, Relations} {
		if cols := k.Columns(); cols[0] != "id" {
			t.Errorf("%s: first column %q", k, cols[0])
		}
	}
}

func TestRow_FollowsColumnOrder(t *testing.T) {
	rel, err := NewRelation("r1", "e1", "e2", "funds")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"r1", "e1", "e2", "funds"}
	if got := rel.Row(); !reflect.DeepEqual(got, want) {
		t.Errorf("Row() = %v, want %v", got, want)
	}
}

func TestRow_MissingFieldsEmpty(t *testing.T) {
	ent, _ := NewEntity("e1", "Treasury", "agency", "")
	want := []string{"e1", "Treasury", "agency", ""}
	if got := ent.Row(); !reflect.DeepEqual(got, want) {
		t.Errorf("Row() = %v, want %v", got, want)
	}
}

func TestMap_IncludesID(t *testing.T) {
	ent, _ := NewEntity("e1", "Treasury", "agency", "dept")
	m := ent.Map()
	if m["id"] != "e1" || m["description"] != "dept" {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestNewEntity_Validation(t *testing.T) {
	tests := []struct {
		name, id, entName, kind string
	}{
		{"empty id", "", "n", "k"},
		{"bad id", "a b", "n", "k"},
		{"empty name", "e1", "", "k"},
		{"empty kind", "e1", "n", " "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEntity(tc.id, tc.entName, tc.kind, ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewRelation_Validation(t *testing.T) {
	if _, err := NewRelation("r1", "", "e2", "t"); err == nil {
		t.Error("expected error for missing source")
	}
	if _, err := NewRelation("r1", "e1", "e2", ""); err == nil {
		t.Error("expected error for missing type")
	}
}
