// Package qruntime provides the HTTP client for a remote circuit-execution
// service. Jobs are submitted, polled to completion and fetched as either a
// shot histogram or an expectation estimate. Transport failures are retried
// with exponential backoff; exhaustion and rejections surface
// domain.ErrBackendUnavailable so the run aborts cleanly.
package qruntime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/quantum"
)

// Config holds the runtime connection settings.
type Config struct {
	BaseURL        string
	Backend        string // remote backend id, e.g. "ibm_torino"
	Shots          int
	Seed           int64
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Shots <= 0 {
		c.Shots = 4096
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Client talks to the remote runtime. It implements domain.Executor and
// domain.NoiseScaler; the service does the noise folding. It does not
// implement domain.StateProvider, so subspace snapshots are skipped on
// remote backends.
type Client struct {
	cfg        Config
	httpClient *http.Client
	scale      float64
	log        zerolog.Logger
}

var (
	_ domain.Executor    = (*Client)(nil)
	_ domain.NoiseScaler = (*Client)(nil)
)

// NewClient creates a runtime client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		scale:      1,
		log:        log.With().Str("client", "qruntime").Str("backend", cfg.Backend).Logger(),
	}
}

// Name identifies the remote backend in records and logs.
func (c *Client) Name() string {
	if c.cfg.Backend != "" {
		return c.cfg.Backend
	}
	return "qruntime"
}

// WithNoiseScale returns a view that asks the service to fold noise by
// factor. Factors below 1 clamp to the native level. The copy shares the
// transport, which is safe for concurrent use; everything else is immutable.
func (c *Client) WithNoiseScale(factor float64) domain.Executor {
	if factor < 1 {
		factor = 1
	}
	scaled := *c
	scaled.scale = factor
	return &scaled
}

// Run executes the circuit remotely and returns the shot histogram.
func (c *Client) Run(ctx context.Context, circuit quantum.Circuit, shots int) (*domain.MeasurementRecord, error) {
	if shots <= 0 {
		shots = c.cfg.Shots
	}
	req := jobRequest{
		Backend:    c.cfg.Backend,
		Mode:       modeHistogram,
		Circuit:    encodeCircuit(circuit),
		Shots:      shots,
		Seed:       c.cfg.Seed,
		NoiseScale: c.scale,
	}
	result, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Counts == nil {
		return nil, fmt.Errorf("runtime returned no histogram for a %s job", modeHistogram)
	}

	rec := domain.NewRawRecord(circuit.Fingerprint(), c.Name(), shots, c.cfg.Seed, c.scale)
	rec.Counts = result.Counts
	return rec, nil
}

// Expectation estimates the observable remotely.
func (c *Client) Expectation(ctx context.Context, circuit quantum.Circuit, obs quantum.Operator) (domain.Expectation, error) {
	req := jobRequest{
		Backend:    c.cfg.Backend,
		Mode:       modeExpectation,
		Circuit:    encodeCircuit(circuit),
		Observable: encodeObservable(obs),
		Shots:      c.cfg.Shots,
		Seed:       c.cfg.Seed,
		NoiseScale: c.scale,
	}
	result, err := c.execute(ctx, req)
	if err != nil {
		return domain.Expectation{}, err
	}
	if result.Value == nil {
		return domain.Expectation{}, fmt.Errorf("runtime returned no value for an %s job", modeExpectation)
	}

	shots := result.Shots
	if shots <= 0 {
		shots = c.cfg.Shots
	}
	return domain.Expectation{Value: *result.Value, Variance: result.Variance, Shots: shots}, nil
}

// execute runs the full submit, poll, fetch cycle for one job.
func (c *Client) execute(ctx context.Context, req jobRequest) (*jobResult, error) {
	jobID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.await(ctx, jobID); err != nil {
		return nil, err
	}
	return c.fetchResult(ctx, jobID)
}

func (c *Client) submit(ctx context.Context, req jobRequest) (string, error) {
	var created jobCreated
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs", req, &created)
	if err != nil {
		return "", err
	}
	if created.JobID == "" {
		return "", fmt.Errorf("%w: runtime accepted the job without an id", domain.ErrBackendUnavailable)
	}
	c.log.Debug().Str("job_id", created.JobID).Str("mode", req.Mode).Msg("Job submitted")
	return created.JobID, nil
}

func (c *Client) await(ctx context.Context, jobID string) error {
	for {
		var status jobStatus
		err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &status)
		if err != nil {
			return err
		}
		switch status.Status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("%w: job %s failed: %s", domain.ErrBackendUnavailable, jobID, status.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) fetchResult(ctx context.Context, jobID string) (*jobResult, error) {
	var result jobResult
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/result", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// doJSON performs one JSON request with bounded retries. Transport errors
// and 5xx responses are wrapped in domain.RetryableError and retried with
// exponential backoff; any 4xx is a permanent rejection.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	url := c.cfg.BaseURL + path
	attempt := 0
	err := domain.RetryWithBackoff(ctx, c.retryConfig(), func() error {
		attempt++
		err := c.doOnce(ctx, method, url, payload, out)
		if domain.IsRetryableError(err) {
			c.log.Warn().
				Str("url", url).
				Int("attempt", attempt).
				Err(err).
				Msg("Runtime request failed, will retry")
		}
		return err
	})
	if err == nil {
		return nil
	}

	var transient domain.RetryableError
	if errors.As(err, &transient) {
		return fmt.Errorf("%w: %d attempts against %s: %v",
			domain.ErrBackendUnavailable, attempt, url, transient.Err)
	}
	return err
}

func (c *Client) retryConfig() domain.RetryConfig {
	return domain.RetryConfig{
		MaxAttempts:   c.cfg.MaxRetries + 1,
		BaseDelay:     c.cfg.RetryBaseDelay,
		MaxDelay:      c.cfg.RetryMaxDelay,
		BackoffFactor: 2,
		JitterFactor:  0.5,
	}
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.RetryableError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RetryableError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.RetryableError{Err: fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, trim(respBody))}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: runtime rejected the request with status %d: %s",
			domain.ErrBackendUnavailable, resp.StatusCode, trim(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse runtime response: %w", err)
		}
	}
	return nil
}

func trim(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
