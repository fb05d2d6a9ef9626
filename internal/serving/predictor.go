// Package serving is the prediction boundary: a Predictor contract over the
// fitted label universe and the HTTP routes that expose it.
package serving

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"sort"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/labels"
)

// ErrEmptyInput is returned when neither image nor text is provided.
var ErrEmptyInput = errors.New("serving: input has neither image nor text")

// Input is one prediction payload. Either field may be empty, not both.
type Input struct {
	Image []byte
	Text  string
}

// Prediction pairs label ids with scores, highest score first.
type Prediction struct {
	Labels []int     `json:"labels"`
	Scores []float64 `json:"scores"`
}

// Predictor scores an input against the label universe.
type Predictor interface {
	Predict(ctx context.Context, in Input) (Prediction, error)
}

// StubPredictor returns deterministic pseudo-scores derived from the input
// bytes. It stands in for a trained model and only guarantees the response
// shape: ids from the encoder universe, sorted by descending score.
type StubPredictor struct {
	Encoder *labels.Encoder
	// TopK caps the number of labels returned. Zero means 3.
	TopK int
}

func (s *StubPredictor) Predict(ctx context.Context, in Input) (Prediction, error) {
	if len(in.Image) == 0 && in.Text == "" {
		return Prediction{}, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}

	classes := s.Encoder.Classes()
	type scored struct {
		id    int
		score float64
	}
	all := make([]scored, len(classes))
	for i, id := range classes {
		all[i] = scored{id: id, score: score(in, id)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})

	k := s.TopK
	if k <= 0 {
		k = 3
	}
	if k > len(all) {
		k = len(all)
	}

	p := Prediction{Labels: make([]int, k), Scores: make([]float64, k)}
	for i := 0; i < k; i++ {
		p.Labels[i] = all[i].id
		p.Scores[i] = all[i].score
	}
	return p, nil
}

// score maps (input, label) to [0, 1) with FNV-64a.
func score(in Input, id int) float64 {
	h := fnv.New64a()
	_, _ = h.Write(in.Image)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(in.Text))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	_, _ = h.Write(buf[:])
	return float64(h.Sum64()>>11) / (1 << 53)
}
