// Package pipeline runs the fixed Repair → Partition → Encode sequence and
// hands the result to the configured sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/labels"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/partition"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/repair"
)

// Split names, in partition order.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Sink persists a finished Result somewhere outside the process.
type Sink interface {
	Name() string
	Write(ctx context.Context, res *Result) error
}

// Options is everything a run depends on. There is no package-level state.
type Options struct {
	// LabelColumn names the label-set column. Defaults to "Labels".
	LabelColumn string
	// ExpectedColumns, if set, must equal the header (case-insensitive).
	ExpectedColumns []string
	Ratios          partition.Ratios
	// Format overrides detection from the source name.
	Format    repair.Format
	Delimiter rune
	Sinks     []Sink
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Split is one partition together with its parsed labels and encoding.
type Split struct {
	Name    string
	Records []dataset.Record
	Labels  []labels.LabelSet
	Matrix  *labels.Matrix
}

// Result is the output of one run.
type Result struct {
	RunID      string
	Source     string
	Format     repair.Format
	Dataset    *dataset.Dataset
	Partitions partition.Partitions
	Splits     [3]Split
	Encoder    *labels.Encoder
	Stats      repair.Stats
	Repairs    []dataset.MalformedRowRecovered
	Ratios     partition.Ratios
	StartedAt  time.Time
	FinishedAt time.Time
}

// Split returns the split called name, or nil.
func (r *Result) Split(name string) *Split {
	for i := range r.Splits {
		if r.Splits[i].Name == name {
			return &r.Splits[i]
		}
	}
	return nil
}

// Pipeline runs the preparation stages with fixed Options.
type Pipeline struct {
	opts Options
}

// New returns a Pipeline, filling defaults for unset options.
func New(opts Options) *Pipeline {
	if opts.LabelColumn == "" {
		opts.LabelColumn = dataset.ColumnLabels
	}
	if opts.Ratios == (partition.Ratios{}) {
		opts.Ratios = partition.DefaultRatios
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{opts: opts}
}

// Run reads src, processes it and writes the result to every sink. Sink
// failures fail the run. The context is checked between stages.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Result, error) {
	return p.RunWithID(ctx, uuid.NewString(), src)
}

// RunWithID is Run with a caller-assigned run ID.
func (p *Pipeline) RunWithID(ctx context.Context, runID string, src Source) (*Result, error) {
	logger := p.opts.Logger.With(zap.String("run.id", runID), zap.String("data.source", src.Name()))
	started := time.Now().UTC()

	res, err := p.run(ctx, src, logger)
	if err != nil {
		code := string(dataset.CodeOf(err))
		p.opts.Metrics.RunFinished("failed", code)
		logger.Error("pipeline run failed", zap.String("error.code", code), zap.Error(err))
		return nil, err
	}

	res.RunID = runID
	res.StartedAt = started
	res.FinishedAt = time.Now().UTC()

	if err := p.writeSinks(ctx, res, logger); err != nil {
		p.opts.Metrics.RunFinished("failed", string(dataset.ErrCodeSink))
		logger.Error("pipeline run failed", zap.String("error.code", string(dataset.ErrCodeSink)), zap.Error(err))
		return nil, err
	}

	p.opts.Metrics.RunFinished("success", "")
	logger.Info("pipeline run complete",
		zap.Int("data.rows", res.Stats.Rows),
		zap.Int("data.repaired", res.Stats.Repaired()),
		zap.Int("split.train", len(res.Partitions.Train)),
		zap.Int("split.validation", len(res.Partitions.Validation)),
		zap.Int("split.test", len(res.Partitions.Test)),
		zap.Int("labels.universe", res.Encoder.Len()),
		zap.Duration("run.duration", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, src Source, logger *zap.Logger) (*Result, error) {
	format := p.opts.Format
	if format == "" {
		var err error
		if format, err = repair.FormatFromName(src.Name()); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := src.Open(ctx)
	if err != nil {
		if interrupted(ctx, err) {
			return nil, ctx.Err()
		}
		return nil, &dataset.FormatError{Reason: fmt.Sprintf("open %s", src.Name()), Err: err}
	}
	defer rc.Close()

	res, err := p.process(ctx, rc, format, logger)
	if err != nil {
		if interrupted(ctx, err) {
			return nil, ctx.Err()
		}
		return nil, err
	}
	res.Source = src.Name()
	return res, nil
}

// interrupted reports whether err comes from ctx ending rather than from the
// source itself. Such failures carry no error code.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// Process runs the pure stages over r. It touches no external system, so
// the same bytes always give the same Result (RunID and timestamps unset).
func (p *Pipeline) Process(r io.Reader, format repair.Format) (*Result, error) {
	return p.process(context.Background(), r, format, p.opts.Logger)
}

func (p *Pipeline) process(ctx context.Context, r io.Reader, format repair.Format, logger *zap.Logger) (*Result, error) {
	res := &Result{Format: format, Ratios: p.opts.Ratios}

	// Repair
	start := time.Now()
	ds, stats, err := repair.Read(r, format, repair.Options{
		Delimiter: p.opts.Delimiter,
		Observer: func(ev dataset.MalformedRowRecovered) {
			res.Repairs = append(res.Repairs, ev)
			logger.Warn("repaired malformed row",
				zap.Int("data.line", ev.Line),
				zap.Int("data.fields", ev.Fields),
				zap.Int("data.want", ev.Want),
				zap.String("repair.action", string(ev.Action)),
			)
		},
	})
	p.opts.Metrics.ObserveStage("repair", time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Dataset, res.Stats = ds, stats

	p.opts.Metrics.AddRows("accepted", stats.Accepted)
	p.opts.Metrics.AddRows(string(dataset.RepairMerged), stats.Merged)
	p.opts.Metrics.AddRows(string(dataset.RepairPadded), stats.Padded)
	if stats.Repaired() > 0 {
		logger.Info("recovered malformed rows",
			zap.Int("data.merged", stats.Merged),
			zap.Int("data.padded", stats.Padded),
		)
	}

	labelCol, err := p.checkSchema(ds.Schema)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Partition
	start = time.Now()
	parts, err := partition.Split(ds, p.opts.Ratios)
	p.opts.Metrics.ObserveStage("partition", time.Since(start))
	if err != nil {
		return nil, err
	}
	res.Partitions = parts
	p.opts.Metrics.SetPartitions(len(parts.Train), len(parts.Validation), len(parts.Test))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Encode
	start = time.Now()
	err = p.encode(res, labelCol, logger)
	p.opts.Metrics.ObserveStage("encode", time.Since(start))
	if err != nil {
		return nil, err
	}

	return res, nil
}

// checkSchema returns the label column index.
func (p *Pipeline) checkSchema(schema dataset.Schema) (int, error) {
	if want := p.opts.ExpectedColumns; len(want) > 0 {
		match := len(want) == len(schema)
		for i := 0; match && i < len(want); i++ {
			match = strings.EqualFold(want[i], schema[i])
		}
		if !match {
			return 0, &dataset.FormatError{
				Line:   1,
				Reason: fmt.Sprintf("header %v, want %v", []string(schema), want),
				Err:    dataset.ErrSchemaMismatch,
			}
		}
	}

	col := schema.Index(p.opts.LabelColumn)
	if col < 0 {
		return 0, &dataset.FormatError{
			Line:   1,
			Reason: fmt.Sprintf("header has no label column %q", p.opts.LabelColumn),
			Err:    dataset.ErrSchemaMismatch,
		}
	}
	return col, nil
}

func (p *Pipeline) encode(res *Result, labelCol int, logger *zap.Logger) error {
	name := res.Dataset.Schema[labelCol]
	records := [3][]dataset.Record{res.Partitions.Train, res.Partitions.Validation, res.Partitions.Test}
	names := [3]string{SplitTrain, SplitValidation, SplitTest}

	for i := range records {
		sets, err := labels.ParseColumn(records[i], labelCol, name)
		if err != nil {
			return err
		}
		res.Splits[i] = Split{Name: names[i], Records: records[i], Labels: sets}
	}

	res.Encoder = labels.Fit(res.Splits[0].Labels)
	p.opts.Metrics.SetUniverse(res.Encoder.Len())

	for i := range res.Splits {
		s := &res.Splits[i]
		s.Matrix = res.Encoder.Transform(s.Labels)
		if n := s.Matrix.Unknown(); n > 0 {
			p.opts.Metrics.AddUnknownLabels(s.Name, n)
			logger.Info("dropped labels outside the training universe",
				zap.String("split.name", s.Name),
				zap.Int("labels.unknown", n),
			)
		}
	}
	return nil
}

func (p *Pipeline) writeSinks(ctx context.Context, res *Result, logger *zap.Logger) error {
	for _, sink := range p.opts.Sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := sink.Write(ctx, res); err != nil {
			return &dataset.SinkError{Sink: sink.Name(), Err: err}
		}
		p.opts.Metrics.ObserveStage("sink_"+sink.Name(), time.Since(start))
		logger.Debug("sink written", zap.String("sink.name", sink.Name()))
	}
	return nil
}
