package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestParseCSV(t *testing.T) {
	input := "\ufeffTitle,Type,Owner,Access_Groups,Version\n" +
		"Supplier contract,contract,u-1,legal;finance,1.2\n" +
		",,,,\n" +
		"  Travel policy ,policy,u-2,,\n"

	rows, err := Parse(strings.NewReader(input), FormatCSV)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected blank row skipped, got %d rows", len(rows))
	}
	first := rows[0]
	if first.Line != 2 || first.Title != "Supplier contract" || first.TypeID != "contract" || first.OwnerID != "u-1" || first.Version != "1.2" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if len(first.AccessGroups) != 2 || first.AccessGroups[1] != "finance" {
		t.Fatalf("unexpected access groups %v", first.AccessGroups)
	}
	if rows[1].Line != 4 || rows[1].Title != "Travel policy" || rows[1].AccessGroups != nil {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestParseXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	data := [][]interface{}{
		{"owner", "title", "type", "access_groups"},
		{"u-7", "Quarterly report", "report", "board|audit"},
	}
	for i, row := range data {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	rows, err := Parse(bytes.NewReader(buf.Bytes()), FormatFromFilename("import.XLSX"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].Title != "Quarterly report" || rows[0].OwnerID != "u-7" || rows[0].Version != "" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	if len(rows[0].AccessGroups) != 2 || rows[0].AccessGroups[0] != "board" {
		t.Fatalf("unexpected access groups %v", rows[0].AccessGroups)
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		format Format
	}{
		{name: "empty", input: "", format: FormatCSV},
		{name: "missing owner column", input: "title,type\nA,contract\n", format: FormatCSV},
		{name: "unterminated quote", input: "title,type,owner\n\"A,contract,u-1\n", format: FormatCSV},
		{name: "not a workbook", input: "title,type,owner\n", format: FormatXLSX},
		{name: "unknown format", input: "title,type,owner\n", format: Format("ods")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.input), tc.format)
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if fields := domain.ValidationFields(err); len(fields) != 1 || fields[0].Field != "file" {
				t.Fatalf("expected file field error, got %+v", fields)
			}
		})
	}
}

func TestFormatFromFilename(t *testing.T) {
	if FormatFromFilename("rows.csv") != FormatCSV || FormatFromFilename("rows") != FormatCSV {
		t.Fatalf("expected csv default")
	}
	if FormatFromFilename("rows.xlsx") != FormatXLSX {
		t.Fatalf("expected xlsx")
	}
}
