// Package storage resolves source URIs (local path, s3://, http(s)://) and
// uploads run artifacts to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/config"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/pipeline"
)

// maxDownload caps HTTP source size at 100MB.
const maxDownload = 100 * 1024 * 1024

// API is the subset of *s3.Client used by this package.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient builds an S3 client. A configured endpoint switches to
// path-style addressing for MinIO.
func NewClient(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, opts...), nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URI %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: want s3://bucket/key", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing key", uri)
	}
	return u.Host, key, nil
}

// Resolve turns a source string into a pipeline.Source. client may be nil
// when no s3:// sources are expected.
func Resolve(source string, client API) (pipeline.Source, error) {
	switch {
	case strings.HasPrefix(source, "s3://"):
		if client == nil {
			return nil, fmt.Errorf("s3 client not initialized for %s", source)
		}
		bucket, key, err := ParseURI(source)
		if err != nil {
			return nil, err
		}
		return &ObjectSource{Client: client, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return &URLSource{URL: source}, nil
	case source == "":
		return nil, fmt.Errorf("no source given")
	default:
		return pipeline.FileSource(source), nil
	}
}

// ObjectSource reads one S3 object.
type ObjectSource struct {
	Client API
	Bucket string
	Key    string
}

func (o *ObjectSource) Name() string {
	return fmt.Sprintf("s3://%s/%s", o.Bucket, o.Key)
}

func (o *ObjectSource) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", o.Name(), err)
	}
	return out.Body, nil
}

// URLSource downloads a file over HTTP(S).
type URLSource struct {
	URL    string
	Client *http.Client
}

// Name strips any query string so the file extension drives format detection.
func (u *URLSource) Name() string {
	if parsed, err := url.Parse(u.URL); err == nil {
		parsed.RawQuery = ""
		parsed.Fragment = ""
		return parsed.String()
	}
	return u.URL
}

func (u *URLSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxDownload), resp.Body}, nil
}

// Uploader writes run artifacts under <prefix>/<run id>/ in a bucket.
type Uploader struct {
	Client API
	Bucket string
	Prefix string
}

func (u *Uploader) Name() string { return "s3" }

// Key returns the object key for an artifact of run.
func (u *Uploader) Key(runID, name string) string {
	return path.Join(u.Prefix, runID, name)
}

func (u *Uploader) Write(ctx context.Context, res *pipeline.Result) error {
	if u.Client == nil {
		return fmt.Errorf("s3 client not initialized")
	}

	artifacts, err := res.Artifacts()
	if err != nil {
		return err
	}

	for _, a := range artifacts {
		key := u.Key(res.RunID, a.Name)
		_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(a.Data),
			ContentType: aws.String(a.ContentType),
			Metadata: map[string]string{
				"run-id":      res.RunID,
				"source":      res.Source,
				"prepared-at": res.FinishedAt.Format(time.RFC3339),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", a.Name, u.Bucket, key, err)
		}
	}
	return nil
}
