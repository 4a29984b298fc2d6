package exposure

// reader.go wraps source files for streaming CSV reads.
//
// Sources are never loaded whole: the CSV reader pulls through a BOM skipper
// and a byte counter. Numeric cells are cleaned by CleanCell; text cells keep
// their bytes apart from surrounding whitespace.

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// contextCheckInterval is how many rows are read between cancellation checks.
const contextCheckInterval = 10000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM drops a leading UTF-8 byte order mark, as written by Excel on
// Windows.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReaderSize(r, 64*1024)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// countingReader tracks bytes read for progress logging.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// table is a CSV source positioned after its header row.
type table struct {
	source  string
	header  HeaderIndex
	csv     *csv.Reader
	counter *countingReader
	line    int
	rows    int
}

// openTable reads the header of r. Fully blank leading lines are skipped;
// a source with no header at all is a MissingDataError.
func openTable(ctx context.Context, r io.Reader, source string) (*table, error) {
	counter := &countingReader{r: r}
	cr := csv.NewReader(skipBOM(counter))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true

	t := &table{source: source, csv: cr, counter: counter}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, err := t.next(ctx)
	if err == io.EOF {
		return nil, &MissingDataError{Source: source, Reason: "file is empty"}
	}
	if err != nil {
		return nil, err
	}

	t.header = MakeHeaderIndex(row)
	return t, nil
}

// next returns the next non-blank row. The slice is reused between calls.
func (t *table) next(ctx context.Context) ([]string, error) {
	for {
		row, err := t.csv.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &SchemaError{Source: t.source, Line: pe.Line, Reason: pe.Err.Error()}
			}
			return nil, fmt.Errorf("%s: read: %w", t.source, err)
		}
		t.line, _ = t.csv.FieldPos(0)
		t.rows++

		if t.rows%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if !blankRow(row) {
			return row, nil
		}
	}
}

// resolve finds each spec in the header. A missing required column is a
// SchemaError; missing optional columns resolve to -1.
func (t *table) resolve(specs []ColumnSpec) ([]int, error) {
	pos := make([]int, len(specs))
	var missing []string
	for i, s := range specs {
		p, ok := t.header[s.Name]
		if !ok {
			if s.Required {
				missing = append(missing, s.Name)
			}
			p = -1
		}
		pos[i] = p
	}
	if len(missing) > 0 {
		return nil, &SchemaError{
			Source: t.source,
			Reason: "missing required column(s): " + strings.Join(missing, ", "),
		}
	}
	return pos, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// openFile opens path and runs load over it.
func openFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return load(f)
}
