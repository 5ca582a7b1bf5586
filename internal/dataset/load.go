package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"carrec/internal/domain"
)

// Load reads a CSV file with a header row. Any failure, including a file with
// no data rows, wraps domain.ErrDataLoad.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDataLoad, err)
	}
	defer f.Close()
	return Read(f, filepath.Base(path), sniffDelimiter(path))
}

// Read parses CSV from r. A zero delimiter means ','.
func Read(r io.Reader, name string, delim rune) (*Dataset, error) {
	if delim == 0 {
		delim = ','
	}
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	// Leading-space trimming would swallow empty fields of a whitespace delimiter.
	cr.TrimLeadingSpace = delim != '\t' && delim != ' '

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s has no header row", domain.ErrDataLoad, name)
		}
		return nil, fmt.Errorf("%w: read header: %w", domain.ErrDataLoad, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	columns := append([]string(nil), header...)

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row %d: %w", domain.ErrDataLoad, len(records)+1, err)
		}
		values := make([]Value, len(columns))
		for i := range values {
			if i < len(row) {
				values[i] = Value{Text: row[i]}
			} else {
				values[i] = Value{Missing: true}
			}
		}
		records = append(records, Record{Index: len(records), Values: values})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no data rows", domain.ErrDataLoad, name)
	}
	return New(name, columns, records), nil
}

func sniffDelimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}
