// Package dataset holds the tabular data model shared by the repair,
// partition and label-encoding stages.
package dataset

import "strings"

// Canonical column names of the multimodal training file.
const (
	ColumnImageID = "ImageID"
	ColumnLabels  = "Labels"
	ColumnCaption = "Caption"
)

// Schema is the ordered list of column names read from the header line.
type Schema []string

// Arity returns the canonical field count of every record.
func (s Schema) Arity() int {
	return len(s)
}

// Index returns the position of the named column, matched case-insensitively,
// or -1 if the schema has no such column.
func (s Schema) Index(name string) int {
	for i, col := range s {
		if strings.EqualFold(col, name) {
			return i
		}
	}
	return -1
}

// Record is one clean row. Fields always has exactly Schema.Arity() entries.
type Record struct {
	// Line is the 1-based source line (or sheet row) the record started on.
	Line     int
	Fields   []string
	Repaired bool
}

// Field returns the i-th field.
func (r Record) Field(i int) string {
	return r.Fields[i]
}

// Dataset is the schema plus records in source order.
type Dataset struct {
	Schema  Schema
	Records []Record
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Column returns every record's value for column i, in order.
func (d *Dataset) Column(i int) []string {
	out := make([]string, len(d.Records))
	for j, rec := range d.Records {
		out[j] = rec.Fields[i]
	}
	return out
}

// Slice returns a read-only view of records [from, to). The view's capacity
// is capped so appends cannot write into the parent dataset.
func (d *Dataset) Slice(from, to int) []Record {
	return d.Records[from:to:to]
}
