// Package client is the consumer side of the import API. It submits files,
// follows background jobs over the push stream and a polling fallback, and
// folds both channels into one monotonic view of each job.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonMunkholm/stockimport/internal/job"
)

const defaultTimeout = 30 * time.Second

// Client talks to one import server.
type Client struct {
	baseURL   string
	http      *http.Client
	stream    *http.Client
	threshold int64
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithStreamClient sets the client used for the event stream. It must not
// carry an overall timeout.
func WithStreamClient(c *http.Client) Option {
	return func(cl *Client) { cl.stream = c }
}

// WithSyncThreshold sets the size at which uploads are sent as background
// imports. The server applies its own threshold as well.
func WithSyncThreshold(n int64) Option {
	return func(cl *Client) { cl.threshold = n }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must use http or https", baseURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		http:      &http.Client{Timeout: defaultTimeout},
		stream:    &http.Client{},
		threshold: job.DefaultSyncThreshold,
		userAgent: "importctl",
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FileUpload is one file to import.
type FileUpload struct {
	FileName    string
	Data        []byte
	DatasetType job.DatasetType
	Options     job.Options
	ForceAsync  bool
}

// SyncResult is the outcome of an inline import.
type SyncResult struct {
	Success          bool            `json:"success"`
	DatasetType      job.DatasetType `json:"datasetType"`
	RecordsProcessed int             `json:"recordsProcessed"`
	RecordsSucceeded int             `json:"recordsSucceeded"`
	RecordsFailed    int             `json:"recordsFailed"`
	Errors           []job.RowError  `json:"errors"`
	Message          string          `json:"message,omitempty"`
}

// Submission is the server's answer to an upload: a finished SyncResult or
// the id of a queued job.
type Submission struct {
	Mode  job.Mode
	Sync  *SyncResult
	JobID string
	State job.State
}

// CancelResult is the server's answer to a cancel request.
type CancelResult struct {
	JobID           string    `json:"jobId"`
	State           job.State `json:"state"`
	CancelRequested bool      `json:"cancelRequested"`
}

// ColumnHelp describes one template column.
type ColumnHelp struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Allowed  []string `json:"allowed,omitempty"`
}

// Dataset describes an importable dataset.
type Dataset struct {
	Key       job.DatasetType `json:"key"`
	Label     string          `json:"label"`
	UniqueKey []string        `json:"uniqueKey,omitempty"`
	Columns   []ColumnHelp    `json:"columns"`
	Template  string          `json:"template"`
}

// Submit uploads a file. The transport is chosen locally from the file size
// and sent as a hint; the server makes the final decision.
func (c *Client) Submit(ctx context.Context, up FileUpload) (Submission, error) {
	dt := up.DatasetType
	if dt == "" {
		dt = job.DatasetAuto
	}
	mode := job.Selector{Threshold: c.threshold}.Select(int64(len(up.Data)), dt)
	if up.ForceAsync {
		mode = job.ModeAsync
	}

	opts, err := json.Marshal(up.Options)
	if err != nil {
		return Submission{}, fmt.Errorf("encode options: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("options", string(opts)); err != nil {
		return Submission{}, err
	}
	if mode == job.ModeAsync {
		if err := mw.WriteField("mode", string(job.ModeAsync)); err != nil {
			return Submission{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", up.FileName)
	if err != nil {
		return Submission{}, err
	}
	if _, err := fw.Write(up.Data); err != nil {
		return Submission{}, err
	}
	if err := mw.Close(); err != nil {
		return Submission{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/import/"+url.PathEscape(string(dt)), &body)
	if err != nil {
		return Submission{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return Submission{}, fmt.Errorf("submit %s: %w", up.FileName, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
		var sr SyncResult
		if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
			return Submission{}, fmt.Errorf("decode import result: %w", err)
		}
		return Submission{Mode: job.ModeSync, Sync: &sr}, nil
	case http.StatusAccepted:
		var acc struct {
			JobID string    `json:"jobId"`
			State job.State `json:"state"`
		}
		if err := json.NewDecoder(res.Body).Decode(&acc); err != nil {
			return Submission{}, fmt.Errorf("decode accepted job: %w", err)
		}
		if acc.JobID == "" {
			return Submission{}, errors.New("server accepted the import without a job id")
		}
		return Submission{Mode: job.ModeAsync, JobID: acc.JobID, State: acc.State}, nil
	}
	return Submission{}, decodeAPIError(res)
}

// Job fetches a job snapshot.
func (c *Client) Job(ctx context.Context, id string) (job.ImportJob, error) {
	var j job.ImportJob
	err := c.getJSON(ctx, "/import/jobs/"+url.PathEscape(id), &j)
	return j, err
}

// Cancel asks the server to cancel a job. A finished job yields an
// APIError for which IsConflict is true.
func (c *Client) Cancel(ctx context.Context, id string) (CancelResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/import/jobs/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return CancelResult{}, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusAccepted {
		return CancelResult{}, decodeAPIError(res)
	}
	var cr CancelResult
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return CancelResult{}, fmt.Errorf("decode cancel result: %w", err)
	}
	return cr, nil
}

// Datasets lists the datasets the server accepts.
func (c *Client) Datasets(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	err := c.getJSON(ctx, "/import/datasets", &out)
	return out, err
}

// Template downloads the CSV template for a dataset.
func (c *Client) Template(ctx context.Context, dt job.DatasetType) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/import/templates/"+url.PathEscape(string(dt)), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download template: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, decodeAPIError(res)
	}
	return io.ReadAll(res.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return decodeAPIError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
