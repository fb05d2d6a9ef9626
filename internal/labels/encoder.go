package labels

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Encoder maps label identifiers to matrix columns. Columns follow ascending
// label order. An Encoder is immutable once fitted.
type Encoder struct {
	classes []int
	index   map[int]int
}

// Fit builds an encoder from the union of all ids in sets.
func Fit(sets []LabelSet) *Encoder {
	var classes []int
	for _, set := range sets {
		classes = append(classes, set...)
	}
	slices.Sort(classes)
	return newEncoder(slices.Compact(classes))
}

// NewEncoder builds an encoder from an explicit class list, which must be
// strictly ascending.
func NewEncoder(classes []int) (*Encoder, error) {
	for i := 1; i < len(classes); i++ {
		if classes[i] <= classes[i-1] {
			return nil, fmt.Errorf("classes must be strictly ascending: %d follows %d", classes[i], classes[i-1])
		}
	}
	return newEncoder(slices.Clone(classes)), nil
}

func newEncoder(classes []int) *Encoder {
	if classes == nil {
		classes = []int{}
	}
	index := make(map[int]int, len(classes))
	for col, id := range classes {
		index[id] = col
	}
	return &Encoder{classes: classes, index: index}
}

// Classes returns a copy of the label universe in column order.
func (e *Encoder) Classes() []int {
	return slices.Clone(e.classes)
}

// Len returns the number of columns.
func (e *Encoder) Len() int {
	return len(e.classes)
}

// Label returns the label id for column col.
func (e *Encoder) Label(col int) (int, bool) {
	if col < 0 || col >= len(e.classes) {
		return 0, false
	}
	return e.classes[col], true
}

// Column returns the column for label id.
func (e *Encoder) Column(id int) (int, bool) {
	col, ok := e.index[id]
	return col, ok
}

// known drops ids outside the fitted universe and reports how many it
// dropped. Unknown ids never add a column and never fail.
func (e *Encoder) known(set LabelSet) (LabelSet, int) {
	kept := make(LabelSet, 0, len(set))
	for _, id := range set {
		if _, ok := e.index[id]; ok {
			kept = append(kept, id)
		}
	}
	return kept, len(set) - len(kept)
}

// Transform encodes each set as one binary row of width Len().
func (e *Encoder) Transform(sets []LabelSet) *Matrix {
	m := newMatrix(len(sets), len(e.classes))
	for row, set := range sets {
		kept, dropped := e.known(set)
		m.unknown += dropped
		for _, id := range kept {
			m.set(row, e.index[id])
		}
	}
	return m
}

// FitTransform fits on sets and encodes them.
func FitTransform(sets []LabelSet) (*Encoder, *Matrix) {
	enc := Fit(sets)
	return enc, enc.Transform(sets)
}

// InverseTransform returns the label ids whose columns are set in row.
func (e *Encoder) InverseTransform(row []uint8) LabelSet {
	set := LabelSet{}
	for col, v := range row {
		if v != 0 && col < len(e.classes) {
			set = append(set, e.classes[col])
		}
	}
	return set
}

type encoderJSON struct {
	Classes []int `json:"classes"`
}

// MarshalJSON persists the label universe.
func (e *Encoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Classes: e.classes})
}

// UnmarshalJSON restores an encoder written by MarshalJSON.
func (e *Encoder) UnmarshalJSON(data []byte) error {
	var raw encoderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	enc, err := NewEncoder(raw.Classes)
	if err != nil {
		return err
	}
	*e = *enc
	return nil
}
