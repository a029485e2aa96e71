// Package record defines the exportable record kinds of the knowledge base.
package record

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is an exportable record kind.
type Kind string

// Record kinds.
const (
	Documents Kind = "documents"
	Entities  Kind = "entities"
	Relations Kind = "relations"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Documents, Entities, Relations:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kind %q (expected documents, entities or relations)", s)
	}
}

// KeySegment is the storage key segment for records of this kind.
func (k Kind) KeySegment() string {
	switch k {
	case Entities:
		return "entity:"
	case Relations:
		return "relation:"
	default:
		return "doc:"
	}
}

// Columns returns the fixed CSV column order for the kind. The first column is always "id".
func (k Kind) Columns() []string {
	switch k {
	case Entities:
		return []string{"id", "name", "kind", "description"}
	case Relations:
		return []string{"id", "source_id", "target_id", "type"}
	default:
		return []string{"id", "title", "source_uri", "text", "published_at", "language"}
	}
}

// Record is one stored row: an identifier and its string attributes.
type Record struct {
	Kind   Kind
	ID     string
	Fields map[string]string
}

// Row returns the record values in Columns order. Missing fields are empty strings.
func (r Record) Row() []string {
	cols := r.Kind.Columns()
	row := make([]string, len(cols))
	row[0] = r.ID
	for i, c := range cols[1:] {
		row[i+1] = r.Fields[c]
	}
	return row
}

// Map returns the record as a flat map including "id".
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["id"] = r.ID
	return m
}

// NewEntity validates an entity record. Name and kind are required.
func NewEntity(id, name, kind, description string) (Record, error) {
	if err := validateID(id); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Record{}, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(kind) == "" {
		return Record{}, fmt.Errorf("kind is required")
	}
	fields := map[string]string{"name": name, "kind": kind}
	if description != "" {
		fields["description"] = description
	}
	return Record{Kind: Entities, ID: id, Fields: fields}, nil
}

// NewRelation validates a relation record between two entity IDs.
func NewRelation(id, sourceID, targetID, relType string) (Record, error) {
	if err := validateID(id); err != nil {
		return Record{}, err
	}
	if sourceID == "" || targetID == "" {
		return Record{}, fmt.Errorf("source_id and target_id are required")
	}
	if strings.TrimSpace(relType) == "" {
		return Record{}, fmt.Errorf("type is required")
	}
	return Record{Kind: Relations, ID: id, Fields: map[string]string{
		"source_id": sourceID,
		"target_id": targetID,
		"type":      relType,
	}}, nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > 256 {
		return fmt.Errorf("id too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("id must contain only letters, digits, '_', '-', '.', ':'")
	}
	return nil
}
