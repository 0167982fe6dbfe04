package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/internal/logx"
	"pkt.systems/fleetcon/internal/version"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

const (
	// TokenHeader carries the static API token on every request.
	TokenHeader = "X-Token"

	defaultTimeout           = 15 * time.Second
	defaultBreakerFailures   = 5
	defaultBreakerTimeout    = 30 * time.Second
	defaultBreakerInterval   = 60 * time.Second
	defaultGeometryPerSecond = 2
	defaultGeometryBurst     = 1
	maxResponseBytes         = 8 << 20

	runsPath     = "/api/exec/ansible/"
	resultPath   = "/api/exec/ansible/result/"
	geometryPath = "/api/exec/ansible/size/"
)

// BreakerConfig configures the circuit breaker guarding the REST API.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// Interval clears failure counts while closed. Zero keeps the default.
	Interval time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	Breaker  BreakerConfig
	// GeometryPerSecond bounds geometry reports. Zero keeps the default;
	// a negative value disables the limit.
	GeometryPerSecond float64
	GeometryBurst     int
	HTTPClient        *http.Client
	Logger            pslog.Logger
}

// Client talks to the execution REST API.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	log     pslog.Logger
}

var _ core.GeometryReporter = (*Client)(nil)

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url must be http or https: %q", cfg.BaseURL)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:    base,
		token:   cfg.APIToken,
		http:    client,
		breaker: newBreaker(cfg.Breaker, logger),
		limiter: newLimiter(cfg.GeometryPerSecond, cfg.GeometryBurst),
		log:     logger,
	}, nil
}

func newBreaker(cfg BreakerConfig, logger pslog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultBreakerInterval
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "jobapi",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("jobapi breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Client errors are answers from a healthy server.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.Status > 0 && apiErr.Status < http.StatusInternalServerError
		},
	})
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond < 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if perSecond == 0 {
		perSecond = defaultGeometryPerSecond
	}
	if burst <= 0 {
		burst = defaultGeometryBurst
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// APIError is a failure reported by the API, either through the response
// envelope or through the HTTP status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return "api error: " + e.Message
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Host is one inventory entry of a run request.
type Host struct {
	ID       int    `json:"id,omitempty"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// RunRequest starts a playbook run.
type RunRequest struct {
	TemplateID int            `json:"template_id,omitempty"`
	Playbook   string         `json:"playbook"`
	HostList   []Host         `json:"host_list"`
	Params     map[string]any `json:"params,omitempty"`
	ExtraVars  string         `json:"extra_vars,omitempty"`
}

// Validate checks the fields the API rejects.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Playbook) == "" {
		return errors.New("playbook is required")
	}
	if len(r.HostList) == 0 {
		return errors.New("host list is required")
	}
	for i, h := range r.HostList {
		if h.IP == "" || h.Port == 0 || h.Username == "" {
			return fmt.Errorf("host %d: ip, port and username are required", i)
		}
	}
	return nil
}

// Run is a started execution: its token and the output keys to subscribe to.
type Run struct {
	Token  schema.ExecutionToken
	Keys   []schema.StreamKey
	Titles map[schema.StreamKey]string
}

// HistoryEntry is one past execution.
type HistoryEntry struct {
	ID          int    `json:"id"`
	Digest      string `json:"digest"`
	Interpreter string `json:"interpreter,omitempty"`
	Command     string `json:"command,omitempty"`
	TemplateID  *int   `json:"template_id,omitempty"`
	HostIDs     []int  `json:"host_ids,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Result is the polled outcome of a run.
type Result struct {
	Output string `json:"output"`
	Status int    `json:"status"`
}

// RecordStatus maps the result code. Any negative code other than running
// is a dispatch failure.
func (r Result) RecordStatus() schema.RecordStatus {
	return schema.StatusFromWire(r.Status)
}

// StartRun submits req and returns the run to subscribe to.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (Run, error) {
	if err := req.Validate(); err != nil {
		return Run{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Run{}, fmt.Errorf("encode run request: %w", err)
	}
	data, err := c.call(ctx, http.MethodPost, runsPath, body, true)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	run, err := decodeRun(data)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	logx.WithToken(c.log, run.Token).Info("jobapi run started", "hosts", len(req.HostList), "keys", len(run.Keys))
	return run, nil
}

// History lists past executions of the authenticated user.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	data, err := c.call(ctx, http.MethodGet, runsPath, nil, true)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	var entries []HistoryEntry
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	return entries, nil
}

// Result polls the aggregated output of a run.
func (c *Client) Result(ctx context.Context, token schema.ExecutionToken) (Result, error) {
	if token == "" {
		return Result{}, schema.ErrInvalidToken
	}
	data, err := c.call(ctx, http.MethodGet, resultPath+url.PathEscape(string(token))+"/", nil, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return Result{}, fmt.Errorf("result %s: %w", token, schema.ErrRunNotFound)
		}
		return Result{}, fmt.Errorf("result %s: %w", token, err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

// ReportGeometry tells the server the console size of a run. Reports are
// rate limited and wait for a slot rather than being dropped.
func (c *Client) ReportGeometry(ctx context.Context, token schema.ExecutionToken, geom schema.Geometry) error {
	if token == "" {
		return schema.ErrInvalidToken
	}
	if !geom.Valid() {
		return fmt.Errorf("invalid geometry %dx%d", geom.Cols, geom.Rows)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("geometry rate limit: %w", err)
	}
	body, err := json.Marshal(geom)
	if err != nil {
		return err
	}
	if _, err := c.call(ctx, http.MethodPost, geometryPath+url.PathEscape(string(token))+"/", body, true); err != nil {
		return fmt.Errorf("report geometry: %w", err)
	}
	logx.WithToken(c.log, token).Debug("jobapi geometry reported", "cols", geom.Cols, "rows", geom.Rows)
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, enveloped bool) ([]byte, error) {
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, body, enveloped)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("api circuit open: %w", err)
		}
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, enveloped bool) ([]byte, error) {
	target := *c.base
	target.Path = c.base.Path + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("jobapi request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	if !enveloped {
		return raw, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Error != "" {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	return env.Data, nil
}

func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fallback
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
