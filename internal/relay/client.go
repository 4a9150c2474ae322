package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/observability"
)

const (
	defaultTimeout  = 20 * time.Minute
	defaultMaxBytes = 50 << 20
)

// Options configures a Client.
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	MaxBytes   int64
	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// Client forwards one document and its prompt to the workflow webhook.
type Client struct {
	mu       sync.RWMutex
	endpoint string

	timeout  time.Duration
	maxBytes int64
	http     *http.Client
	metrics  *observability.Metrics
}

func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.HTTPClient == nil {
		// The per-request context carries the deadline.
		opts.HTTPClient = &http.Client{}
	}
	c := &Client{
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
		http:     opts.HTTPClient,
		metrics:  opts.Metrics,
	}
	if err := c.SetEndpoint(opts.Endpoint); err != nil {
		return nil, err
	}
	return c, nil
}

// SetEndpoint swaps the webhook URL. In-flight requests keep the old one.
func (c *Client) SetEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook url %q must be an absolute http(s) url", raw)
	}
	c.mu.Lock()
	c.endpoint = u.String()
	c.mu.Unlock()
	return nil
}

func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

func (c *Client) MaxBytes() int64 {
	return c.maxBytes
}

// Submit relays the job and always returns a result; failures become the
// failure variant carrying the user-facing message.
func (c *Client) Submit(ctx context.Context, job *models.UploadJob) *models.RelayResult {
	result, err := c.Forward(ctx, job)
	if err != nil {
		return models.FailureResult(Describe(err), err)
	}
	return result
}

// Forward validates the job, posts it once and classifies the response.
// Errors are *Error values except for unexpected local failures.
func (c *Client) Forward(ctx context.Context, job *models.UploadJob) (*models.RelayResult, error) {
	if job == nil || job.Body == nil {
		return nil, validationError(http.StatusBadRequest, "No file uploaded")
	}
	if err := Validate(job.File, c.maxBytes); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.post(ctx, job)
	outcome := "failure"
	if err == nil {
		outcome = string(result.Kind)
	} else if kind := KindOf(err); kind != "" {
		outcome = string(kind)
	}
	c.metrics.ObserveRelay(outcome, time.Since(start))
	return result, err
}

func (c *Client) post(ctx context.Context, job *models.UploadJob) (*models.RelayResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.Endpoint()
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, job))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger := slog.With("endpoint", endpoint, "file", job.File.Name, "size", job.File.Size)
	logger.Info("relaying document to webhook")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		logger.Warn("webhook returned error status", "status", resp.StatusCode)
		return nil, &Error{Kind: KindUpstreamHTTP, Status: resp.StatusCode, Body: snippet(string(body))}
	}

	result, err := Classify(resp.Header.Get("Content-Type"), resp.Body, job.File.Name)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	logger.Info("webhook responded", "kind", result.Kind, "contentType", resp.Header.Get("Content-Type"))
	return result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeMultipart(mw *multipart.Writer, job *models.UploadJob) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(job.File.Name)))
	header.Set("Content-Type", DeclaredType(job.File))
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, job.Body); err != nil {
		return fmt.Errorf("copy file part: %w", err)
	}
	if job.Prompt != "" {
		if err := mw.WriteField("prompt", job.Prompt); err != nil {
			return fmt.Errorf("write prompt field: %w", err)
		}
	}
	return mw.Close()
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("relay cancelled: %w", err)
	}
	return &Error{Kind: KindNetwork, Cause: err}
}
