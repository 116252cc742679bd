package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tybalt/worklog-classifier/internal/classify"
)

// Column names written by the classifier.
const (
	ColumnCategory          = "category"
	ColumnITDescription     = classify.KeyITDescription
	ColumnITHours           = classify.KeyITHours
	ColumnTybaltDescription = classify.KeyTybaltDescription
	ColumnTybaltHours       = classify.KeyTybaltHours

	DefaultDescriptionColumn = "workDescription"
)

// HoursColumns are consulted in order; the first non-empty value wins.
var HoursColumns = []string{"hours", "Hours", "jobHours"}

// OutputColumns returns the columns added to a table before results are merged.
func OutputColumns() []string {
	return []string{
		ColumnCategory,
		ColumnITDescription,
		ColumnITHours,
		ColumnTybaltDescription,
		ColumnTybaltHours,
	}
}

var ErrMissingColumn = errors.New("missing required column")

// Table is a CSV document held in memory. Columns the classifier does not know
// about are carried through unchanged.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// ReadTable reads a CSV with a header row. Rows may be shorter or longer than
// the header.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	t := &Table{Header: header}
	t.reindex()
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, rec)
	}
}

// WriteTable writes the header and every row, padding short rows to the header width.
func WriteTable(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if len(row) < len(t.Header) {
			padded := make([]string, len(t.Header))
			copy(padded, row)
			row = padded
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		name = strings.TrimSpace(name)
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
}

func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Get returns the value of col in row i, or "" when absent.
func (t *Table) Get(i int, col string) string {
	idx, ok := t.index[col]
	if !ok || i < 0 || i >= len(t.Rows) {
		return ""
	}
	row := t.Rows[i]
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Set writes val into col of row i, growing the row when needed. Unknown
// columns are ignored.
func (t *Table) Set(i int, col, val string) {
	idx, ok := t.index[col]
	if !ok || i < 0 || i >= len(t.Rows) {
		return
	}
	row := t.Rows[i]
	for len(row) <= idx {
		row = append(row, "")
	}
	row[idx] = val
	t.Rows[i] = row
}

// EnsureColumns appends every missing column to the header.
func (t *Table) EnsureColumns(cols ...string) {
	for _, col := range cols {
		if t.Has(col) {
			continue
		}
		t.Header = append(t.Header, col)
		t.index[col] = len(t.Header) - 1
	}
}

// Records extracts one Record per row. The description column is required.
func (t *Table) Records(descriptionColumn string) ([]Record, error) {
	if descriptionColumn == "" {
		descriptionColumn = DefaultDescriptionColumn
	}
	if !t.Has(descriptionColumn) {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, descriptionColumn)
	}

	records := make([]Record, 0, len(t.Rows))
	for i := range t.Rows {
		records = append(records, Record{
			Row:         i + 1,
			Description: t.Get(i, descriptionColumn),
			Hours:       t.hours(i),
			Category:    t.Get(i, ColumnCategory),
		})
	}
	return records, nil
}

func (t *Table) hours(i int) string {
	for _, col := range HoursColumns {
		if v := strings.TrimSpace(t.Get(i, col)); v != "" {
			return v
		}
	}
	return ""
}

// Apply merges classified and defaulted outcomes into their rows. Output
// columns must already exist. Other outcomes leave their row untouched.
func (t *Table) Apply(outcomes []Outcome) {
	for _, o := range outcomes {
		if o.Status != StatusClassified && o.Status != StatusDefaulted {
			continue
		}
		i := o.Record.Row - 1
		t.Set(i, ColumnCategory, string(o.Result.Category))

		var itDesc, itHours, tybaltDesc, tybaltHours string
		if b := o.Result.Breakdown; o.Result.Category == classify.CategoryPartial && b != nil {
			itDesc = b.ITDescription
			itHours = formatHours(b.ITHours)
			tybaltDesc = b.TybaltDescription
			tybaltHours = formatHours(b.TybaltHours)
		}
		t.Set(i, ColumnITDescription, itDesc)
		t.Set(i, ColumnITHours, itHours)
		t.Set(i, ColumnTybaltDescription, tybaltDesc)
		t.Set(i, ColumnTybaltHours, tybaltHours)
	}
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
