// Package repair parses delimited and spreadsheet sources into clean records,
// recovering rows whose field count does not match the header.
//
// Recovery is a fixed heuristic: extra fields are assumed to come from the
// last (free-text) column containing unquoted delimiters, so they are joined
// back into it; missing trailing fields are padded with "". A blank line is
// a row with no fields and is padded like any other short row. A row that
// has the right number of fields but split a value in the wrong place cannot
// be detected and is accepted as-is. No row is ever dropped.
package repair

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

// Observer receives one event per repaired row.
type Observer func(dataset.MalformedRowRecovered)

// Options configures a repair run.
type Options struct {
	// Delimiter separates fields. Zero means ','.
	Delimiter rune
	// Observer, if set, is called for each malformed row after it is fixed.
	Observer Observer
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// Stats summarizes a repair run.
type Stats struct {
	Rows     int `json:"rows"`
	Accepted int `json:"accepted"`
	Merged   int `json:"merged"`
	Padded   int `json:"padded"`
}

// Repaired returns the number of rows that needed fixing.
func (s Stats) Repaired() int {
	return s.Merged + s.Padded
}

// Repair reads a delimited source whose first line is the header.
func Repair(r io.Reader, opts Options) (*dataset.Dataset, Stats, error) {
	var stats Stats

	// Strip a leading BOM (and decode UTF-16 if one says so); other input
	// passes through untouched so invalid UTF-8 is still detectable below.
	counter := &lineCounter{r: transform.NewReader(r, unicode.BOMOverride(transform.Nop))}
	reader := csv.NewReader(counter)
	reader.Comma = opts.delimiter()
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	// Trimming would swallow empty fields when the delimiter is itself
	// whitespace.
	reader.TrimLeadingSpace = reader.Comma != '\t' && reader.Comma != ' '
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, stats, &dataset.FormatError{Line: 1, Err: dataset.ErrEmptySource}
	}
	if err != nil {
		return nil, stats, readError(err)
	}
	if err := checkUTF8(1, header); err != nil {
		return nil, stats, err
	}

	schema := normalizeHeader(header)
	ds := &dataset.Dataset{Schema: schema}
	join := string(opts.delimiter())

	// encoding/csv skips empty lines, so they are recovered from the gap
	// between the end of one record and the start of the next.
	last := endLine(reader, header)
	blanks := func(upTo int) {
		for line := last + 1; line < upTo; line++ {
			ds.Records = append(ds.Records, fixRecord(line, nil, schema.Arity(), join, &stats, opts.Observer))
		}
	}

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, readError(err)
		}

		line, _ := reader.FieldPos(0)
		if err := checkUTF8(line, fields); err != nil {
			return nil, stats, err
		}

		blanks(line)
		ds.Records = append(ds.Records, fixRecord(line, fields, schema.Arity(), join, &stats, opts.Observer))
		last = endLine(reader, fields)
	}
	blanks(counter.total() + 1)

	return ds, stats, nil
}

// endLine is the physical line on which the record just read ends. Line
// breaks inside quoted fields are kept as "\n" in the value.
func endLine(reader *csv.Reader, fields []string) int {
	i := len(fields) - 1
	line, _ := reader.FieldPos(i)
	return line + strings.Count(fields[i], "\n")
}

// lineCounter counts the physical lines passing through it.
type lineCounter struct {
	r     io.Reader
	n     int64
	lines int
	last  byte
}

func (c *lineCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		c.lines += bytes.Count(p[:n], []byte{'\n'})
		c.last = p[n-1]
	}
	return n, err
}

// total is the number of lines read, counting an unterminated last line.
func (c *lineCounter) total() int {
	if c.n > 0 && c.last != '\n' {
		return c.lines + 1
	}
	return c.lines
}

// fixRecord brings fields to exactly n entries and records what it did.
func fixRecord(line int, fields []string, n int, join string, stats *Stats, observe Observer) dataset.Record {
	stats.Rows++
	got := len(fields)

	var action dataset.RepairAction
	switch {
	case got == n:
		stats.Accepted++
		return dataset.Record{Line: line, Fields: fields}
	case got > n:
		fields = mergeOverflow(fields, n, join)
		action = dataset.RepairMerged
		stats.Merged++
	default:
		fields = padFields(fields, n)
		action = dataset.RepairPadded
		stats.Padded++
	}

	if observe != nil {
		observe(dataset.MalformedRowRecovered{Line: line, Fields: got, Want: n, Action: action})
	}
	return dataset.Record{Line: line, Fields: fields, Repaired: true}
}

// mergeOverflow keeps the first n-1 fields and joins the rest into the last
// column. Only the trailing column is assumed to overflow.
func mergeOverflow(fields []string, n int, join string) []string {
	if n == 0 {
		return []string{}
	}
	out := make([]string, n)
	copy(out, fields[:n-1])
	out[n-1] = strings.Join(fields[n-1:], join)
	return out
}

func padFields(fields []string, n int) []string {
	out := make([]string, n)
	copy(out, fields)
	return out
}

func normalizeHeader(header []string) dataset.Schema {
	schema := make(dataset.Schema, len(header))
	for i, name := range header {
		schema[i] = norm.NFC.String(strings.TrimSpace(name))
	}
	return schema
}

func checkUTF8(line int, fields []string) error {
	for i, f := range fields {
		if !utf8.ValidString(f) {
			return &dataset.FormatError{
				Line:   line,
				Reason: fmt.Sprintf("field %d", i+1),
				Err:    dataset.ErrInvalidUTF8,
			}
		}
	}
	return nil
}

func readError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &dataset.FormatError{Line: pe.Line, Err: pe.Err}
	}
	return &dataset.FormatError{Reason: "read source", Err: err}
}
