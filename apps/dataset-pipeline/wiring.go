package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/config"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/pipeline"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/publish"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/repair"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/storage"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/store"
)

// backends are the external systems a configuration asks for. Each is nil
// when not configured.
type backends struct {
	s3    storage.API
	store *store.Store
}

func (b *backends) Close() {
	if b.store != nil {
		_ = b.store.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.S3.Bucket != "" || strings.HasPrefix(cfg.Source, "s3://") {
		client, err := storage.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		b.s3 = client
	}

	if cfg.Database.URL != "" {
		s, err := store.Open(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.store = s
	}

	return b, nil
}

// sinks lists the outputs in write order: local files, object storage, the
// run store, then the dataset repo.
func sinks(cfg *config.Config, b *backends, m *metrics.Metrics, logger *zap.Logger, perRun bool) []pipeline.Sink {
	var out []pipeline.Sink
	if cfg.Output.Dir != "" {
		out = append(out, pipeline.DirSink{Dir: cfg.Output.Dir, PerRun: perRun})
	}
	if cfg.S3.Bucket != "" && b.s3 != nil {
		out = append(out, &storage.Uploader{Client: b.s3, Bucket: cfg.S3.Bucket, Prefix: cfg.S3.Prefix})
	}
	if b.store != nil {
		out = append(out, b.store)
	}
	if cfg.HuggingFace.Repo != "" {
		out = append(out, &publish.Publisher{
			Client:  publish.NewClient(cfg.HuggingFace.Repo, cfg.HuggingFace.Token, cfg.HuggingFace.Branch),
			Metrics: m,
			Logger:  logger,
		})
	}
	return out
}

func pipelineOptions(cfg *config.Config, format string, out []pipeline.Sink, m *metrics.Metrics, logger *zap.Logger) (pipeline.Options, error) {
	opts := pipeline.Options{
		LabelColumn:     cfg.Schema.LabelColumn,
		ExpectedColumns: cfg.Schema.ExpectedColumns,
		Ratios:          cfg.Split,
		Sinks:           out,
		Logger:          logger,
		Metrics:         m,
	}
	if format != "" {
		f, err := repair.ParseFormat(format)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	}
	return opts, nil
}

// runOnce executes a single run from cfg.Source.
func runOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Result, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("no source given: set --source, source in the config file, or PIPELINE_SOURCE")
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	src, err := storage.Resolve(cfg.Source, b.s3)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	opts, err := pipelineOptions(cfg, cfg.Format, sinks(cfg, b, m, logger, false), m, logger)
	if err != nil {
		return nil, err
	}
	return pipeline.New(opts).Run(ctx, src)
}
