// Package partition splits a dataset positionally into train, validation
// and test slices.
package partition

import (
	"fmt"
	"math"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

// Ratios holds the train and validation fractions. Test receives whatever
// remains, including all rounding leftovers.
type Ratios struct {
	Train      float64 `yaml:"train" json:"train"`
	Validation float64 `yaml:"validation" json:"validation"`
}

// DefaultRatios is the 70/15/15 split.
var DefaultRatios = Ratios{Train: 0.70, Validation: 0.15}

// Validate checks that both ratios are in [0, 1] and leave a non-negative
// test share.
func (r Ratios) Validate() error {
	if math.IsNaN(r.Train) || r.Train < 0 || r.Train > 1 {
		return &dataset.ConfigError{Field: "split.train", Message: fmt.Sprintf("%v is outside [0, 1]", r.Train)}
	}
	if math.IsNaN(r.Validation) || r.Validation < 0 || r.Validation > 1 {
		return &dataset.ConfigError{Field: "split.validation", Message: fmt.Sprintf("%v is outside [0, 1]", r.Validation)}
	}
	if r.Train+r.Validation > 1+1e-9 {
		return &dataset.ConfigError{Field: "split", Message: fmt.Sprintf("train %v + validation %v exceeds 1", r.Train, r.Validation)}
	}
	return nil
}

// Partitions are three contiguous, ordered, non-overlapping views over a
// dataset's records.
type Partitions struct {
	Train      []dataset.Record
	Validation []dataset.Record
	Test       []dataset.Record
}

// Sizes returns the partition lengths in train, validation, test order.
func (p Partitions) Sizes() [3]int {
	return [3]int{len(p.Train), len(p.Validation), len(p.Test)}
}

// Sizes computes floor(train*total) and floor(validation*total); test takes
// the remainder.
func Sizes(total int, r Ratios) (train, validation, test int) {
	train = int(math.Floor(r.Train * float64(total)))
	validation = int(math.Floor(r.Validation * float64(total)))
	test = total - train - validation
	return train, validation, test
}

// Split slices ds into Train = [0, t), Validation = [t, t+v), Test = [t+v, n).
// Records are not shuffled.
func Split(ds *dataset.Dataset, r Ratios) (Partitions, error) {
	if err := r.Validate(); err != nil {
		return Partitions{}, err
	}

	total := ds.Len()
	train, validation, test := Sizes(total, r)
	if err := checkSizes(total, train, validation, test); err != nil {
		return Partitions{}, err
	}

	return Partitions{
		Train:      ds.Slice(0, train),
		Validation: ds.Slice(train, train+validation),
		Test:       ds.Slice(train+validation, total),
	}, nil
}

func checkSizes(total, train, validation, test int) error {
	if train < 0 || validation < 0 || test < 0 || train+validation+test != total {
		return &dataset.PartitionSizeError{Total: total, Sizes: [3]int{train, validation, test}}
	}
	return nil
}
