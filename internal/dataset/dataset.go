// Package dataset loads the historical training table and the recommendation table
// from spreadsheet or CSV files.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/opensource-health/heron/internal/domain"
)

var (
	ErrNotFound      = errors.New("data file not found")
	ErrUnsupported   = errors.New("unsupported file type")
	ErrNoRows        = errors.New("file must have a header row and at least one data row")
	ErrMissingColumn = errors.New("missing column")
	ErrBadAge        = errors.New("age is not an integer")
	ErrBadOutcome    = errors.New("outcome is not 0/1")
)

// Table is a header plus string cells, one row per historical subject.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// NewTable builds a table from a header and rows. Short rows are padded with
// empty cells and header names are trimmed. Columns with a blank header, such
// as trailing cells of a spreadsheet export, are not addressable.
func NewTable(header []string, rows [][]string) (*Table, error) {
	t := &Table{
		header: make([]string, 0, len(header)),
		index:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, dup := t.index[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		t.header = append(t.header, h)
		t.index[h] = i
	}
	for _, r := range rows {
		if isBlank(r) {
			continue
		}
		row := make([]string, len(header))
		for j := 0; j < len(header) && j < len(r); j++ {
			row[j] = strings.TrimSpace(r[j])
		}
		t.rows = append(t.rows, row)
	}
	if len(t.rows) == 0 {
		return nil, ErrNoRows
	}
	return t, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Load reads a training table. ".xlsx" files are read from the named sheet (or the
// first sheet when sheet is empty); ".csv" files are read as comma separated values.
func Load(path, sheet string) (*Table, error) {
	rows, err := readRows(path, sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRows)
	}
	t, err := NewTable(rows[0], rows[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// readRows returns every row of a workbook sheet or CSV file.
func readRows(path, sheet string) ([][]string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open workbook %s: %w", path, err)
		}
		defer f.Close()
		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
		}
		return rows, nil
	case ".csv":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()
		r := csv.NewReader(file)
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
}

// Len is the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Header returns the named columns in file order.
func (t *Table) Header() []string {
	return append([]string(nil), t.header...)
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the raw cells of a column.
func (t *Table) Column(name string) ([]string, error) {
	j, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
	}
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[j]
	}
	return out, nil
}

// Ages parses the age column. Spreadsheet exports sometimes store whole numbers
// as "42.0", which is accepted.
func (t *Table) Ages() ([]int, error) {
	col, err := t.Column(domain.AgeColumn)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(col))
	for i, c := range col {
		age, err := parseWhole(c)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d value %q", ErrBadAge, i+1, c)
		}
		out[i] = age
	}
	return out, nil
}

// Outcome parses a disease column into 0/1 labels. Accepts 0/1, yes/no and true/false.
func (t *Table) Outcome(name string) ([]int, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(col))
	for i, c := range col {
		switch strings.ToLower(c) {
		case "1", "1.0", "yes", "true", "y":
			out[i] = 1
		case "0", "0.0", "no", "false", "n":
			out[i] = 0
		default:
			return nil, fmt.Errorf("%w: column %s row %d value %q", ErrBadOutcome, name, i+1, c)
		}
	}
	return out, nil
}

// Validate checks that the table carries the age column, every declared feature
// and every disease outcome column.
func (t *Table) Validate(diseases []domain.Disease) error {
	var missing []string
	if !t.Has(domain.AgeColumn) {
		missing = append(missing, domain.AgeColumn)
	}
	for _, f := range domain.FeatureNames(diseases) {
		if !t.Has(f) {
			missing = append(missing, f)
		}
	}
	for _, d := range diseases {
		if !t.Has(d.Name) {
			missing = append(missing, d.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

func parseWhole(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not a whole number: %q", s)
	}
	return int(f), nil
}
