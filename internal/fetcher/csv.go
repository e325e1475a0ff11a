// Package fetcher parses uploaded contact files into intake rows. The
// column whose header is "email" (case-insensitive) becomes the row's email;
// every other column lands in the row's field bag.
package fetcher

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/intake"
)

// ReadCSV reads a CSV file with a header row and returns all contact rows.
func ReadCSV(path string) ([]intake.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}

	emailIdx, err := findEmailColumn(header)
	if err != nil {
		return nil, err
	}

	var rows []intake.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		rows = append(rows, recordToRow(header, record, emailIdx))
	}
	return rows, nil
}

// findEmailColumn locates the email header, case-insensitively.
func findEmailColumn(header []string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "email") {
			return i, nil
		}
	}
	return 0, eris.New("fetcher: no email column in header")
}

// recordToRow maps one record onto an intake row, preserving non-email
// cells under their header names.
func recordToRow(header, record []string, emailIdx int) intake.Row {
	row := intake.Row{Fields: make(map[string]string)}
	for i, cell := range record {
		if i >= len(header) {
			break
		}
		if i == emailIdx {
			row.Email = cell
			continue
		}
		row.Fields[strings.TrimSpace(header[i])] = cell
	}
	return row
}
