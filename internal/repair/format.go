package repair

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

// Format identifies how a source is parsed.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// FormatFromName picks a format from a file name or object key. A name
// without an extension is read as CSV.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case "", ".csv", ".txt":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", &dataset.FormatError{Reason: fmt.Sprintf("file %q", name), Err: dataset.ErrUnsupportedFormat}
	}
}

// ParseFormat validates an explicitly configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatTSV, FormatXLSX:
		return f, nil
	default:
		return "", &dataset.FormatError{Reason: fmt.Sprintf("format %q", s), Err: dataset.ErrUnsupportedFormat}
	}
}

// Read dispatches to the parser for format.
func Read(r io.Reader, format Format, opts Options) (*dataset.Dataset, Stats, error) {
	switch format {
	case FormatCSV:
		return Repair(r, opts)
	case FormatTSV:
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
		return Repair(r, opts)
	case FormatXLSX:
		return RepairXLSX(r, opts)
	default:
		return nil, Stats{}, &dataset.FormatError{Reason: fmt.Sprintf("format %q", format), Err: dataset.ErrUnsupportedFormat}
	}
}
