package repair

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

// Sheets that describe the workbook rather than hold rows.
var metadataSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// RepairXLSX reads the first data sheet of a workbook. The first row is the
// header; later rows go through the same arity repair as delimited input.
// Merged overflow cells are joined with opts.Delimiter.
func RepairXLSX(r io.Reader, opts Options) (*dataset.Dataset, Stats, error) {
	var stats Stats

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, stats, &dataset.FormatError{Reason: "open workbook", Err: err}
	}
	defer f.Close()

	sheet := dataSheet(f.GetSheetList())
	if sheet == "" {
		return nil, stats, &dataset.FormatError{Reason: "workbook has no sheets", Err: dataset.ErrEmptySource}
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, stats, &dataset.FormatError{Reason: fmt.Sprintf("read sheet %q", sheet), Err: err}
	}
	defer rows.Close()

	var (
		ds   *dataset.Dataset
		line int
		join = string(opts.delimiter())
	)
	for rows.Next() {
		line++
		cols, err := rows.Columns()
		if err != nil {
			return nil, stats, &dataset.FormatError{Line: line, Err: err}
		}
		if err := checkUTF8(line, cols); err != nil {
			return nil, stats, err
		}

		if ds == nil {
			// Leading empty rows carry no header.
			if isBlank(cols) {
				continue
			}
			ds = &dataset.Dataset{Schema: normalizeHeader(trimTrailingBlank(cols))}
			continue
		}
		if isBlank(cols) {
			continue
		}
		ds.Records = append(ds.Records, fixRecord(line, trimTrailingBlank(cols), ds.Schema.Arity(), join, &stats, opts.Observer))
	}
	if err := rows.Error(); err != nil {
		return nil, stats, &dataset.FormatError{Line: line, Err: err}
	}

	if ds == nil {
		return nil, stats, &dataset.FormatError{Line: 1, Err: dataset.ErrEmptySource}
	}
	return ds, stats, nil
}

// dataSheet picks the first sheet that is not a metadata sheet, falling
// back to the last sheet when every name looks like metadata.
func dataSheet(sheets []string) string {
	if len(sheets) == 0 {
		return ""
	}
	for _, sheet := range sheets {
		if !metadataSheets[strings.ToLower(strings.TrimSpace(sheet))] {
			return sheet
		}
	}
	return sheets[len(sheets)-1]
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

// Spreadsheet rows report styled-but-empty trailing cells; they are not
// fields.
func trimTrailingBlank(cols []string) []string {
	end := len(cols)
	for end > 0 && cols[end-1] == "" {
		end--
	}
	return cols[:end]
}
