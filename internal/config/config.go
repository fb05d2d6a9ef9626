// Package config loads pipeline configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/partition"
)

// Config holds all pipeline settings.
type Config struct {
	Source      string            `yaml:"source"`
	Format      string            `yaml:"format"`
	Schema      SchemaConfig      `yaml:"schema"`
	Split       partition.Ratios  `yaml:"split"`
	Output      OutputConfig      `yaml:"output"`
	S3          S3Config          `yaml:"s3"`
	Database    DatabaseConfig    `yaml:"database"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// SchemaConfig describes the expected header.
type SchemaConfig struct {
	LabelColumn string `yaml:"label_column"`
	// ExpectedColumns, when set, must match the header exactly (names are
	// compared case-insensitively).
	ExpectedColumns []string `yaml:"expected_columns"`
}

// OutputConfig controls local output.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// S3Config is used both for s3:// sources and for uploading outputs.
type S3Config struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For MinIO/testing
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig enables the Postgres run store when URL is set.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// HuggingFaceConfig enables publishing splits to a dataset repo.
type HuggingFaceConfig struct {
	Repo   string `yaml:"repo"`
	Token  string `yaml:"token"`
	Branch string `yaml:"branch"`
}

// ServerConfig configures the worker's HTTP mode.
type ServerConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	WebhookSecret string        `yaml:"webhook_secret"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

// LogConfig selects logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Format: "",
		Schema: SchemaConfig{
			LabelColumn: dataset.ColumnLabels,
		},
		Split: partition.DefaultRatios,
		Output: OutputConfig{
			Dir: "out",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		HuggingFace: HuggingFaceConfig{
			Branch: "main",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			RunTimeout: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	expandEnvVars(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Source = getEnv("PIPELINE_SOURCE", cfg.Source)
	cfg.Format = getEnv("PIPELINE_FORMAT", cfg.Format)
	cfg.Schema.LabelColumn = getEnv("LABEL_COLUMN", cfg.Schema.LabelColumn)
	if cols := os.Getenv("EXPECTED_COLUMNS"); cols != "" {
		cfg.Schema.ExpectedColumns = splitList(cols)
	}
	cfg.Split.Train = getFloatEnv("SPLIT_TRAIN", cfg.Split.Train)
	cfg.Split.Validation = getFloatEnv("SPLIT_VALIDATION", cfg.Split.Validation)
	cfg.Output.Dir = getEnv("OUTPUT_DIR", cfg.Output.Dir)

	cfg.S3.Region = getEnv("S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Prefix = getEnv("S3_PREFIX", cfg.S3.Prefix)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	cfg.HuggingFace.Repo = getEnv("HF_REPO", cfg.HuggingFace.Repo)
	cfg.HuggingFace.Token = getEnv("HF_TOKEN", cfg.HuggingFace.Token)
	cfg.HuggingFace.Branch = getEnv("HF_BRANCH", cfg.HuggingFace.Branch)

	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.Server.WebhookSecret)
	cfg.Server.RunTimeout = getDurationEnv("RUN_TIMEOUT", cfg.Server.RunTimeout)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

var envRef = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// expandEnvVars resolves ${VAR} references in secret-bearing fields so YAML
// files never need to hold the secret itself.
func expandEnvVars(cfg *Config) {
	cfg.Database.URL = expandEnvVar(cfg.Database.URL)
	cfg.HuggingFace.Token = expandEnvVar(cfg.HuggingFace.Token)
	cfg.Server.WebhookSecret = expandEnvVar(cfg.Server.WebhookSecret)
}

func expandEnvVar(s string) string {
	if s == "" {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimPrefix(name, "$")
		name = strings.TrimSuffix(name, "}")
		return os.Getenv(name)
	})
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	if err := c.Split.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Schema.LabelColumn) == "" {
		return &dataset.ConfigError{Field: "schema.label_column", Message: "must not be empty"}
	}
	if len(c.Schema.ExpectedColumns) > 0 {
		found := false
		for _, col := range c.Schema.ExpectedColumns {
			if strings.EqualFold(col, c.Schema.LabelColumn) {
				found = true
			}
		}
		if !found {
			return &dataset.ConfigError{
				Field:   "schema.expected_columns",
				Message: fmt.Sprintf("does not contain label column %q", c.Schema.LabelColumn),
			}
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return &dataset.ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	if c.HuggingFace.Repo != "" && c.HuggingFace.Token == "" {
		return &dataset.ConfigError{Field: "huggingface.token", Message: "required when huggingface.repo is set"}
	}
	if c.Server.RunTimeout <= 0 {
		return &dataset.ConfigError{Field: "server.run_timeout", Message: "must be positive"}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
		log.Printf("Invalid float for %s: %s", key, value)
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		log.Printf("Invalid duration for %s: %s", key, value)
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
