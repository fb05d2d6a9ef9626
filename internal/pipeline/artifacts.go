package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/partition"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/repair"
)

// Artifact names written for every run.
const (
	EncoderFile = "label_encoder.json"
	SummaryFile = "summary.json"
)

// Artifact is one named output file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// SplitSummary describes one partition in summary.json.
type SplitSummary struct {
	Name          string `json:"name"`
	Records       int    `json:"records"`
	UnknownLabels int    `json:"unknown_labels"`
	LabelCounts   []int  `json:"label_counts"`
}

// Summary is the run report persisted as summary.json and in the run store.
type Summary struct {
	RunID      string           `json:"run_id"`
	Source     string           `json:"source"`
	Format     string           `json:"format"`
	Columns    []string         `json:"columns"`
	Rows       repair.Stats     `json:"rows"`
	Ratios     partition.Ratios `json:"ratios"`
	Splits     []SplitSummary   `json:"splits"`
	Classes    []int            `json:"classes"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Summary builds the run report.
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:      r.RunID,
		Source:     r.Source,
		Format:     string(r.Format),
		Columns:    []string(r.Dataset.Schema),
		Rows:       r.Stats,
		Ratios:     r.Ratios,
		Classes:    r.Encoder.Classes(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, sp := range r.Splits {
		s.Splits = append(s.Splits, SplitSummary{
			Name:          sp.Name,
			Records:       len(sp.Records),
			UnknownLabels: sp.Matrix.Unknown(),
			LabelCounts:   sp.Matrix.LabelCounts(),
		})
	}
	return s
}

// Artifacts renders every output file: per split the clean records and the
// label matrix, then the encoder and the summary.
func (r *Result) Artifacts() ([]Artifact, error) {
	var out []Artifact
	for _, sp := range r.Splits {
		var records bytes.Buffer
		if err := r.writeRecords(&records, sp); err != nil {
			return nil, fmt.Errorf("render %s records: %w", sp.Name, err)
		}
		out = append(out, Artifact{Name: sp.Name + ".csv", ContentType: "text/csv", Data: records.Bytes()})

		var matrix bytes.Buffer
		if err := sp.Matrix.WriteCSV(&matrix, r.Encoder); err != nil {
			return nil, fmt.Errorf("render %s labels: %w", sp.Name, err)
		}
		out = append(out, Artifact{Name: sp.Name + "_labels.csv", ContentType: "text/csv", Data: matrix.Bytes()})
	}

	enc, err := json.Marshal(r.Encoder)
	if err != nil {
		return nil, fmt.Errorf("render encoder: %w", err)
	}
	out = append(out, Artifact{Name: EncoderFile, ContentType: "application/json", Data: enc})

	summary, err := json.MarshalIndent(r.Summary(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}
	out = append(out, Artifact{Name: SummaryFile, ContentType: "application/json", Data: summary})

	return out, nil
}

func (r *Result) writeRecords(buf *bytes.Buffer, sp Split) error {
	w := csv.NewWriter(buf)
	if err := w.Write(r.Dataset.Schema); err != nil {
		return err
	}
	for _, rec := range sp.Records {
		if err := w.Write(rec.Fields); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// DirSink writes artifacts into a local directory, one subdirectory per
// run when PerRun is set.
type DirSink struct {
	Dir    string
	PerRun bool
}

func (d DirSink) Name() string { return "local" }

func (d DirSink) Write(_ context.Context, res *Result) error {
	dir := d.Dir
	if d.PerRun && res.RunID != "" {
		dir = filepath.Join(dir, res.RunID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	artifacts, err := res.Artifacts()
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(dir, a.Name), a.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	return nil
}
