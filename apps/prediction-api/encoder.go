package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/labels"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/store"
)

// rowQuerier is satisfied by *pgxpool.Pool.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// encoderFromFile reads a label_encoder.json written by the pipeline.
func encoderFromFile(path string) (*labels.Encoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoder: %w", err)
	}
	var enc labels.Encoder
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode encoder %s: %w", path, err)
	}
	return &enc, nil
}

// encoderFromDB loads the most recently stored label universe.
func encoderFromDB(ctx context.Context, db rowQuerier) (string, *labels.Encoder, error) {
	var runID string
	var classes []int64
	if err := db.QueryRow(ctx, store.LatestEncoderSQL).Scan(&runID, &classes); err != nil {
		return "", nil, fmt.Errorf("query latest encoder: %w", err)
	}

	ids := make([]int, len(classes))
	for i, c := range classes {
		ids[i] = int(c)
	}
	enc, err := labels.NewEncoder(ids)
	if err != nil {
		return "", nil, fmt.Errorf("encoder from run %s: %w", runID, err)
	}
	return runID, enc, nil
}
