package document

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxTextSize is the maximum document body size in bytes.
const MaxTextSize = 163840 // 160KB

// Storage field names of a document record.
const (
	FieldTitle       = "title"
	FieldSourceURI   = "source_uri"
	FieldText        = "text"
	FieldPublishedAt = "published_at"
	FieldLanguage    = "language"
)

// Document is the document aggregate (immutable value object).
type Document struct {
	id          string
	title       string
	sourceURI   string
	text        string
	publishedAt string
	language    string
}

// Attrs holds the optional document attributes.
type Attrs struct {
	SourceURI   string
	Text        string
	PublishedAt string
	Language    string
}

// New validates and creates a Document.
// ID: ^[a-zA-Z0-9_.:-]+$, 1-256 chars. Title: non-empty. Text: max 160KB.
func New(id, title string, attrs Attrs) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if len(id) > 256 {
		return Document{}, fmt.Errorf("document ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Document{}, fmt.Errorf("document ID must contain only letters, digits, '_', '-', '.', ':'")
	}
	if strings.TrimSpace(title) == "" {
		return Document{}, fmt.Errorf("title is required")
	}
	if len(attrs.Text) > MaxTextSize {
		return Document{}, fmt.Errorf("text too large (max %d bytes)", MaxTextSize)
	}

	return Document{
		id:          id,
		title:       title,
		sourceURI:   attrs.SourceURI,
		text:        attrs.Text,
		publishedAt: attrs.PublishedAt,
		language:    attrs.Language,
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id string, fields map[string]string) Document {
	return Document{
		id:          id,
		title:       fields[FieldTitle],
		sourceURI:   fields[FieldSourceURI],
		text:        fields[FieldText],
		publishedAt: fields[FieldPublishedAt],
		language:    fields[FieldLanguage],
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Title returns the document title.
func (d *Document) Title() string { return d.title }

// SourceURI returns the origin URI, if any.
func (d *Document) SourceURI() string { return d.sourceURI }

// Text returns the document body.
func (d *Document) Text() string { return d.text }

// PublishedAt returns the publication timestamp as supplied by the client.
func (d *Document) PublishedAt() string { return d.publishedAt }

// Language returns the document language code.
func (d *Document) Language() string { return d.language }

// EmbeddingText is the text fed to the embedder: title, then body.
func (d *Document) EmbeddingText() string {
	if d.text == "" {
		return d.title
	}
	return d.title + "\n" + d.text
}

// Fields returns the non-empty attributes keyed by storage field name.
func (d *Document) Fields() map[string]string {
	m := map[string]string{FieldTitle: d.title}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(FieldSourceURI, d.sourceURI)
	set(FieldText, d.text)
	set(FieldPublishedAt, d.publishedAt)
	set(FieldLanguage, d.language)
	return m
}

// Record converts the document into an exportable record.
func (d *Document) Record() record.Record {
	return record.Record{Kind: record.Documents, ID: d.id, Fields: d.Fields()}
}
