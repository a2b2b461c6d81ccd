package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var requiredColumns = []string{"title", "type", "owner"}

// FormatFromFilename picks the parser by extension; anything that is not
// .xlsx is read as CSV.
func FormatFromFilename(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// ParseFile picks the format from filename and parses r.
func ParseFile(r io.Reader, filename string) ([]domain.ImportRow, error) {
	return Parse(r, FormatFromFilename(filename))
}

// Parse reads import rows with the header
// "title,type,owner,access_groups,version". Column order is free and matching
// is case-insensitive; access_groups are separated by ";" or "|".
func Parse(r io.Reader, format Format) ([]domain.ImportRow, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatXLSX:
		records, err = readXLSX(r)
	case FormatCSV, "":
		records, err = readCSV(r)
	default:
		return nil, invalidImport(fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, err
	}
	return toRows(records)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, invalidImport(fmt.Sprintf("line %d: %v", parseErr.Line, parseErr.Err))
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalidImport("file is not a readable XLSX workbook")
	}
	defer func() {
		_ = file.Close()
	}()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalidImport("workbook has no sheets")
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func toRows(records [][]string) ([]domain.ImportRow, error) {
	if len(records) == 0 {
		return nil, invalidImport("header row is missing")
	}
	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, invalidImport(fmt.Sprintf("column %q is missing", name))
		}
	}

	cell := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rows := make([]domain.ImportRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if blank(record) {
			continue
		}
		rows = append(rows, domain.ImportRow{
			Line:         i + 2,
			Title:        cell(record, "title"),
			TypeID:       cell(record, "type"),
			OwnerID:      cell(record, "owner"),
			AccessGroups: splitGroups(cell(record, "access_groups")),
			Version:      cell(record, "version"),
		})
	}
	return rows, nil
}

func splitGroups(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '|' })
	groups := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			groups = append(groups, p)
		}
	}
	return groups
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func invalidImport(message string) error {
	return domain.WrapError(domain.ErrInvalidInput, "parse import", domain.NewValidationError(domain.FieldError{
		Field:   "file",
		Message: message,
	}))
}
