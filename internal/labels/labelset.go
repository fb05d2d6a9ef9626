// Package labels parses multi-label fields and binarizes them against a
// label universe fitted on the training partition.
package labels

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

// LabelSet is a sorted, duplicate-free set of label identifiers.
type LabelSet []int

// Contains reports whether id is in the set.
func (s LabelSet) Contains(id int) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// errNotInteger is the cause attached to LabelParseError when strconv's own
// error is not available.
var errNotInteger = errors.New("not an integer")

// ParseLabelSet splits field on whitespace and parses each token as an
// integer. An empty field yields an empty set. On failure it returns the
// offending token.
func ParseLabelSet(field string) (LabelSet, string, error) {
	tokens := strings.Fields(field)
	set := make(LabelSet, 0, len(tokens))
	for _, tok := range tokens {
		id, err := strconv.Atoi(tok)
		if err != nil {
			var numErr *strconv.NumError
			if errors.As(err, &numErr) {
				return nil, tok, numErr.Err
			}
			return nil, tok, errNotInteger
		}
		set = append(set, id)
	}
	slices.Sort(set)
	return slices.Compact(set), "", nil
}

// ParseColumn parses column col of every record. The first malformed token
// aborts parsing with a LabelParseError naming the record's source line.
func ParseColumn(records []dataset.Record, col int, name string) ([]LabelSet, error) {
	sets := make([]LabelSet, len(records))
	for i, rec := range records {
		set, tok, err := ParseLabelSet(rec.Fields[col])
		if err != nil {
			return nil, &dataset.LabelParseError{Line: rec.Line, Column: name, Token: tok, Err: err}
		}
		sets[i] = set
	}
	return sets, nil
}
