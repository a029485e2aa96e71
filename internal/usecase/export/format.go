package export

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cloudcurio/kbsearch/internal/domain"
	"github.com/cloudcurio/kbsearch/internal/domain/record"
)

// Format is an export serialization.
type Format string

// Supported formats.
const (
	NDJSON Format = "ndjson"
	CSV    Format = "csv"
)

// ParseFormat validates a format. Empty means NDJSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(NDJSON):
		return NDJSON, nil
	case string(CSV):
		return CSV, nil
	case "parquet":
		return "", domain.NewValidation("format", "parquet is only available from the offline exporter")
	default:
		return "", domain.NewValidation("format", "must be one of ndjson|csv")
	}
}

// ContentType returns the HTTP media type of the format.
func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// ETag returns the quoted entity tag of one export page.
func ETag(kind record.Kind, cursor string) string {
	sum := sha256.Sum256([]byte(string(kind) + ":" + cursor))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Matches reports whether an If-None-Match header value matches etag.
// The header may list several tags, quoted or not, or "*".
func Matches(ifNoneMatch, etag string) bool {
	want := strings.Trim(etag, `"`)
	for _, tag := range strings.Split(ifNoneMatch, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "W/")
		if tag == "*" || strings.Trim(tag, `"`) == want {
			return true
		}
	}
	return false
}

// ParseCursor decodes an offset cursor. Empty means the beginning.
func ParseCursor(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.NewValidation("cursor", "invalid cursor")
	}
	return n, nil
}

// Write serializes records. CSV output starts with a header row.
func Write(w io.Writer, f Format, kind record.Kind, records []record.Record) error {
	if f == CSV {
		return writeCSV(w, kind, records)
	}
	return writeNDJSON(w, records)
}

func writeNDJSON(w io.Writer, records []record.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(r.Map()); err != nil {
			return fmt.Errorf("encode %s: %w", r.ID, err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, kind record.Kind, records []record.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(kind.Columns()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
