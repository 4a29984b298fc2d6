package exposure

// schema.go declares the columns a source table is read with.
//
// Every column the loaders touch is declared once as a ColumnSpec with its
// type and default, and resolved against the header before any row is read.
// Absent optional columns take their default for every row; absent required
// columns fail the load up front.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ColumnType is the parsed type of a source column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnFloat
	ColumnUint
	ColumnInt
)

func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnFloat:
		return "float"
	case ColumnUint:
		return "unsigned integer"
	case ColumnInt:
		return "integer"
	default:
		return "unknown"
	}
}

// ColumnSpec declares one source column.
type ColumnSpec struct {
	Name     string     // lowercased header name
	Type     ColumnType // parsed type
	Required bool       // column must be in the header and cells must be non-empty
	Default  string     // value used for empty cells and absent optional columns
}

// HeaderIndex maps lowercased column names to their position in a row.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header row. The first
// occurrence of a repeated name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Has reports whether the header contains name.
func (h HeaderIndex) Has(name string) bool {
	_, ok := h[name]
	return ok
}

// CleanCell removes common CSV artifacts from a cell value: surrounding
// whitespace, an Excel formula prefix (="..."), surrounding quotes and
// invalid UTF-8 sequences.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.ToValidUTF8(s, "?")
}

// numericRegex validates a number after currency and separator cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// normalizeNumeric strips currency symbols and thousands separators and
// turns accounting negatives "(123.45)" into "-123.45".
func normalizeNumeric(s string) (string, bool) {
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}

	return s, numericRegex.MatchString(s)
}

// ParseFloat parses a lenient numeric cell.
func ParseFloat(s string) (float64, error) {
	n, ok := normalizeNumeric(s)
	if !ok {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return strconv.ParseFloat(n, 64)
}

// ParseInt parses an integral cell. Values such as "3.0" written by
// spreadsheet tools are accepted.
func ParseInt(s string) (int64, error) {
	n, ok := normalizeNumeric(s)
	if !ok {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if i, err := strconv.ParseInt(n, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(n, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return int64(f), nil
}

// ParseUint parses a non-negative integral cell that fits in bits.
func ParseUint(s string, bits int) (uint64, error) {
	i, err := ParseInt(s)
	if err != nil {
		return 0, err
	}
	if i < 0 || (bits < 64 && uint64(i) >= 1<<uint(bits)) {
		return 0, fmt.Errorf("value %q out of range for uint%d", s, bits)
	}
	return uint64(i), nil
}

// cell returns the value of spec in row, or the spec default when the
// column is absent or the cell is empty. present is false only for empty
// cells of present columns and absent columns.
//
// Only numeric cells go through CleanCell. Text cells (identifiers, model
// data) lose surrounding whitespace and are otherwise kept verbatim.
func cell(row []string, pos int, spec ColumnSpec) (value string, present bool) {
	if pos < 0 || pos >= len(row) {
		return spec.Default, false
	}
	v := cellValue(row[pos], spec.Type)
	if v == "" {
		return spec.Default, false
	}
	return v, true
}

func cellValue(raw string, t ColumnType) string {
	if t == ColumnText {
		return strings.TrimSpace(raw)
	}
	return CleanCell(raw)
}
