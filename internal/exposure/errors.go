package exposure

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError reports a structurally invalid source table: a required
// column is absent, an identifier cell is empty or a cell cannot be parsed.
type SchemaError struct {
	Source string   // "exposure" or "keys"
	Line   int      // 1-based CSV line, 0 for header-level problems
	Column string   // offending column, if a single one
	Reason string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, ": column %q", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// MissingDataError reports a source table with no data rows.
type MissingDataError struct {
	Source string
	Reason string
}

func (e *MissingDataError) Error() string {
	return e.Source + ": " + e.Reason
}

// IsSchemaError reports whether err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsMissingDataError reports whether err is or wraps a MissingDataError.
func IsMissingDataError(err error) bool {
	var me *MissingDataError
	return errors.As(err, &me)
}
