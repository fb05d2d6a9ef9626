// Package publish commits prepared splits to a Hugging Face dataset repo.
package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/metrics"
	"github.com/goldfish-inc/oceanid/dataset-prep/internal/pipeline"
)

// DefaultBaseURL is the public Hub endpoint.
const DefaultBaseURL = "https://huggingface.co"

// CommitOperation is one file change in a Hub commit.
type CommitOperation struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding,omitempty"`
}

// Client talks to the Hub commit API.
type Client struct {
	Repo    string
	Token   string
	Branch  string
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a client for repo on branch (default "main").
func NewClient(repo, token, branch string) *Client {
	if branch == "" {
		branch = "main"
	}
	return &Client{
		Repo:    repo,
		Token:   token,
		Branch:  branch,
		BaseURL: DefaultBaseURL,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) commitURL() string {
	parts := strings.Split(c.Repo, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/api/datasets/%s/commit/%s",
		strings.TrimRight(c.BaseURL, "/"),
		strings.Join(parts, "/"),
		url.PathEscape(c.Branch),
	)
}

// Commit applies ops in a single commit.
func (c *Client) Commit(ctx context.Context, ops []CommitOperation, message string) error {
	if c.Repo == "" || c.Token == "" {
		return fmt.Errorf("huggingface repo or token not configured")
	}

	payload := map[string]interface{}{
		"operations":     ops,
		"commit_message": message,
		"create_pr":      false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal HF commit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.commitURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create HF commit request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("huggingface commit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("huggingface commit error: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Publisher is a pipeline sink that commits every split as JSONL plus the
// encoder and summary.
type Publisher struct {
	Client  *Client
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func (p *Publisher) Name() string { return "huggingface" }

func (p *Publisher) Write(ctx context.Context, res *pipeline.Result) error {
	ops, err := Operations(res)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("Add dataset run %s (%d records)", res.RunID, res.Dataset.Len())
	if err := p.Client.Commit(ctx, ops, message); err != nil {
		p.Metrics.PublishCommit(p.Client.Repo, "error")
		return err
	}
	p.Metrics.PublishCommit(p.Client.Repo, "ok")

	if p.Logger != nil {
		p.Logger.Info("published dataset run",
			zap.String("run.id", res.RunID),
			zap.String("hf.repo", p.Client.Repo),
			zap.Int("hf.files", len(ops)),
		)
	}
	return nil
}

// Operations builds the commit: data/<split>.jsonl for each split and the
// encoder and summary under meta/.
func Operations(res *pipeline.Result) ([]CommitOperation, error) {
	var ops []CommitOperation
	for _, sp := range res.Splits {
		payload, err := BuildJSONL(res, sp)
		if err != nil {
			return nil, err
		}
		ops = append(ops, addFile("data/"+sp.Name+".jsonl", payload))
	}

	enc, err := json.Marshal(res.Encoder)
	if err != nil {
		return nil, fmt.Errorf("marshal encoder: %w", err)
	}
	ops = append(ops, addFile("meta/"+pipeline.EncoderFile, enc))

	summary, err := json.Marshal(res.Summary())
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	ops = append(ops, addFile("meta/"+pipeline.SummaryFile, summary))

	return ops, nil
}

func addFile(path string, content []byte) CommitOperation {
	return CommitOperation{
		Operation: "addOrUpdate",
		Path:      path,
		Content:   base64.StdEncoding.EncodeToString(content),
		Encoding:  "base64",
	}
}

// BuildJSONL renders one object per record: every column as a string keyed
// by its header name, plus "label_ids" with the parsed label set.
func BuildJSONL(res *pipeline.Result, sp pipeline.Split) ([]byte, error) {
	var buf bytes.Buffer
	for i, rec := range sp.Records {
		row := make(map[string]interface{}, len(rec.Fields)+1)
		for c, name := range res.Dataset.Schema {
			row[name] = rec.Fields[c]
		}
		ids := []int(sp.Labels[i])
		if ids == nil {
			ids = []int{}
		}
		row["label_ids"] = ids

		line, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record at line %d: %w", sp.Name, rec.Line, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
