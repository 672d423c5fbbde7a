package ingest

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mauv0809/splitadjust/internal/models"
)

const utf8BOM = "\ufeff"

// ReadCSV reads a headed CSV stream into a table of string cells.
func ReadCSV(r io.Reader) (*Datatable, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty CSV: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	dt := &Datatable{Columns: make([]Column, len(header))}
	for i, name := range header {
		dt.Columns[i] = Column{Name: strings.TrimSpace(name), Type: TypeString}
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(dt.Data), err)
		}
		row := make([]interface{}, len(record))
		for i, v := range record {
			row[i] = v
		}
		dt.Data = append(dt.Data, row)
	}

	return dt, nil
}

// ReadFile reads a CSV file. Zip archives are read from their first .csv
// entry, which is how the vendor ships daily partitions.
func ReadFile(path string) (*Datatable, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return readZip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	dt, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return dt, nil
}

func readZip(path string) (*Datatable, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			continue
		}
		if strings.HasPrefix(filepath.Base(f.Name), "._") {
			continue // macOS resource fork
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s in %s: %w", f.Name, path, err)
		}
		defer rc.Close()

		dt, err := ReadCSV(rc)
		if err != nil {
			return nil, fmt.Errorf("%s in %s: %w", f.Name, path, err)
		}
		return dt, nil
	}

	return nil, fmt.Errorf("%s: archive contains no .csv file", path)
}

// LoadPriceFiles reads and concatenates price-volume partitions. Every
// partition must share the first one's column layout.
func LoadPriceFiles(paths ...string) (models.PriceTable, error) {
	if len(paths) == 0 {
		return models.PriceTable{}, errors.New("no price files given")
	}

	var out models.PriceTable
	for i, path := range paths {
		dt, err := ReadFile(path)
		if err != nil {
			return models.PriceTable{}, err
		}
		table, err := ParsePrices(dt)
		if err != nil {
			return models.PriceTable{}, fmt.Errorf("%s: %w", path, err)
		}

		if i == 0 {
			out.Columns = table.Columns
		} else if !slices.Equal(out.Columns, table.Columns) {
			return models.PriceTable{}, fmt.Errorf("%s: columns %v do not match %v", path, table.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, table.Rows...)
	}

	return out, nil
}

// LoadSplitFile reads a split-info file.
func LoadSplitFile(path string) ([]models.SplitEvent, error) {
	dt, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	events, err := ParseSplits(dt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// WriteCSV writes a price table with a header row in its column order.
// Null values are written as empty cells.
func WriteCSV(w io.Writer, t models.PriceTable) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, r := range t.Rows {
		for j, c := range t.Columns {
			switch v := cellValue(r, c).(type) {
			case nil:
				record[j] = ""
			case string:
				record[j] = v
			default:
				record[j] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
