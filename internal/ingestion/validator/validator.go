// Package validator checks ingest events before they reach the index. It
// enforces field presence and size limits and returns per-field error
// details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
)

const maxFieldLength = 1048576

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestEvent checks that the event carries at least one non-empty
// field, that every field is declared in schema, and that no field exceeds
// the size limit.
func ValidateIngestEvent(event *ingestion.IngestEvent, schema config.SchemaConfig) error {
	errs := make(map[string]string)
	nonEmpty := 0
	for name, text := range event.Fields {
		if _, ok := schema.FieldID(name); !ok {
			errs[name] = "field is not declared in the schema"
			continue
		}
		if len(text) > maxFieldLength {
			errs[name] = fmt.Sprintf("field must be at most %d bytes", maxFieldLength)
			continue
		}
		if strings.TrimSpace(text) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 && len(errs) == 0 {
		errs["fields"] = "at least one non-empty field is required"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
