package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/datareader"

	"github.com/kapstat/kapstat/pkg/domain"
)

// Meta carries dataset-level information gathered at load time.
type Meta struct {
	Path         string
	Format       string
	ColumnLabels map[string]string
	Rows         int
	Columns      int
}

// Load reads a survey export, dispatching on the file extension: .csv,
// .sas7bdat, or .dta. Missing files and unreadable files map onto the
// domain sentinels so the CLI can print dedicated messages for them.
func Load(path string) (*Table, *Meta, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDatasetPermission, path)
	case err != nil:
		return nil, nil, fmt.Errorf("stat dataset %s: %w", path, err)
	case info.IsDir():
		return nil, nil, fmt.Errorf("%w: %s is a directory", domain.ErrDatasetFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrDatasetPermission, path)
		}
		return nil, nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	var (
		table  *Table
		labels map[string]string
	)
	switch ext {
	case ".csv":
		table, err = loadCSV(f)
	case ".sas7bdat":
		table, labels, err = loadSAS(f)
	case ".dta":
		table, err = loadStata(f)
	default:
		return nil, nil, fmt.Errorf("%w: extension %q (want .csv, .sas7bdat, or .dta)", domain.ErrDatasetFormat, ext)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	meta := &Meta{
		Path:         path,
		Format:       strings.TrimPrefix(ext, "."),
		ColumnLabels: labels,
		Rows:         table.NumRows(),
		Columns:      table.NumCols(),
	}
	return table, meta, nil
}

// missingToken reports whether a raw CSV cell denotes a missing value.
// Blank cells and the conventional NA spellings count.
func missingToken(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", ".", "NA", "N/A", "NULL":
		return true
	}
	return false
}

// loadCSV reads a header row plus records and infers each column's kind:
// a column is numeric when every observed cell parses as a float.
func loadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	cols := make([]*Column, 0, len(header))
	for j, name := range header {
		name = strings.TrimSpace(name)
		raw := make([]string, len(records))
		missing := make([]bool, len(records))
		for i, rec := range records {
			cell := ""
			if j < len(rec) {
				cell = strings.TrimSpace(rec[j])
			}
			if missingToken(cell) {
				missing[i] = true
				continue
			}
			raw[i] = cell
		}
		cols = append(cols, inferColumn(name, raw, missing))
	}
	return NewTable(cols)
}

// inferColumn decides numeric vs text for a CSV column and materializes the
// storage. Numeric wins only when every observed cell parses.
func inferColumn(name string, raw []string, missing []bool) *Column {
	numeric := true
	for i, cell := range raw {
		if missing[i] {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			numeric = false
			break
		}
	}

	if numeric {
		floats := make([]float64, len(raw))
		for i, cell := range raw {
			if missing[i] {
				continue
			}
			floats[i], _ = strconv.ParseFloat(cell, 64)
		}
		return NewNumericColumn(name, floats, missing)
	}
	return NewTextColumn(name, raw, missing)
}

// loadSAS reads a SAS7BDAT export, preserving variable labels when present.
func loadSAS(f *os.File) (*Table, map[string]string, error) {
	sas, err := datareader.NewSAS7BDATReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse sas7bdat: %w", err)
	}
	sas.ConvertDates = true

	series, err := sas.Read(-1)
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("read sas7bdat: %w", err)
	}

	table, err := tableFromSeries(series)
	if err != nil {
		return nil, nil, err
	}

	labels := make(map[string]string)
	names := sas.ColumnNames()
	for i, label := range sas.ColumnLabels() {
		if i < len(names) && label != "" {
			labels[names[i]] = label
		}
	}
	return table, labels, nil
}

// loadStata reads a Stata dta export.
func loadStata(f *os.File) (*Table, error) {
	stata, err := datareader.NewStataReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse dta: %w", err)
	}
	stata.InsertCategoryLabels = true

	series, err := stata.Read(-1)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read dta: %w", err)
	}
	return tableFromSeries(series)
}

// tableFromSeries converts datareader series into table columns. Numeric
// series upcast to float64; everything else is kept as text.
func tableFromSeries(series []*datareader.Series) (*Table, error) {
	cols := make([]*Column, 0, len(series))
	for _, ser := range series {
		if ser == nil {
			continue
		}
		name := ser.Name()
		if floats, missing, err := ser.UpcastNumeric().AsFloat64Slice(); err == nil {
			cols = append(cols, NewNumericColumn(name, floats, normalizeMask(missing, len(floats))))
			continue
		}
		strs, missing, err := ser.AsStringSlice()
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		for i := range strs {
			strs[i] = strings.TrimSpace(strs[i])
			if !missing[i] && missingToken(strs[i]) {
				missing[i] = true
				strs[i] = ""
			}
		}
		cols = append(cols, NewTextColumn(name, strs, normalizeMask(missing, len(strs))))
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns")
	}
	return NewTable(cols)
}

func normalizeMask(mask []bool, n int) []bool {
	if mask == nil {
		return make([]bool, n)
	}
	return mask
}
