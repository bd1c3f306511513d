// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState represents the current state of the engine connection.
type ConnectionState int32

const (
	// StateConnected indicates normal operation.
	StateConnected ConnectionState = iota
	// StateDegraded indicates the engine is unavailable but the client
	// keeps probing.
	StateDegraded
	// StateCircuitOpen indicates the circuit breaker is open.
	StateCircuitOpen
	// StateHalfOpen indicates the breaker is testing with a single request.
	StateHalfOpen
)

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateCircuitOpen:
		return "circuit_open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Client Configuration
// -----------------------------------------------------------------------------

// ClientConfig configures the resilient engine client.
type ClientConfig struct {
	// URL is the engine server URL (e.g. "http://localhost:9621").
	URL string

	// Model is an optional model identifier forwarded on requests.
	Model string

	// SupportsFast advertises the insert_fast endpoint.
	SupportsFast bool

	// RetryAttempts is the number of retry attempts for failed requests.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration between retries.
	// Default: 200ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 10s
	MaxRetryBackoff time.Duration

	// RetryJitter adds randomness to backoff (0.0-1.0).
	// Default: 0.25
	RetryJitter float64

	// CircuitThreshold is the number of failures before opening the circuit.
	// Default: 5
	CircuitThreshold int

	// CircuitWindow is the sliding window for counting failures.
	// Default: 30s
	CircuitWindow time.Duration

	// CircuitCooldown is how long the circuit stays open before half-opening.
	// Default: 30s
	CircuitCooldown time.Duration

	// InsertTimeout bounds one insert round-trip. Default: 120s
	InsertTimeout time.Duration

	// QueryTimeout bounds one query round-trip. Default: 300s
	QueryTimeout time.Duration

	// RequestsPerSecond rate-limits outbound requests (0 = unlimited).
	RequestsPerSecond float64

	// Logger for client operations. Default: slog.Default()
	Logger *slog.Logger

	// HTTPClient overrides the transport (tests). Default: tuned client.
	HTTPClient *http.Client
}

// DefaultClientConfig returns sensible defaults for production use.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryAttempts:    3,
		RetryBackoff:     200 * time.Millisecond,
		MaxRetryBackoff:  10 * time.Second,
		RetryJitter:      0.25,
		CircuitThreshold: 5,
		CircuitWindow:    30 * time.Second,
		CircuitCooldown:  30 * time.Second,
		InsertTimeout:    120 * time.Second,
		QueryTimeout:     300 * time.Second,
		Logger:           slog.Default(),
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("retry_jitter must be between 0 and 1")
	}
	if c.CircuitThreshold < 1 {
		return errors.New("circuit_threshold must be at least 1")
	}
	if c.CircuitWindow <= 0 {
		return errors.New("circuit_window must be positive")
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *ClientConfig) applyDefaults() {
	defaults := DefaultClientConfig()
	if c.RetryAttempts == 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = defaults.RetryJitter
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = defaults.CircuitThreshold
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = defaults.CircuitWindow
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = defaults.CircuitCooldown
	}
	if c.InsertTimeout == 0 {
		c.InsertTimeout = defaults.InsertTimeout
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaults.QueryTimeout
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 0} // Per-request deadlines
	}
}

// -----------------------------------------------------------------------------
// Resilient Client
// -----------------------------------------------------------------------------

// Client is a resilient HTTP client for the RAG engine.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Client struct {
	config  ClientConfig
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	// State
	state           atomic.Int32
	circuitOpenTime atomic.Int64 // Unix timestamp when circuit opened
	closed          atomic.Bool

	// Circuit breaker - sliding window
	failures   []time.Time // Ring buffer of failure timestamps
	failureIdx int
	failureMu  sync.Mutex

	// Half-open state - only one test request allowed
	halfOpenTest atomic.Bool
}

// NewClient creates a resilient engine client. The engine is not
// contacted; the first request establishes health.
func NewClient(config ClientConfig) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	c := &Client{
		config:   config,
		baseURL:  strings.TrimRight(config.URL, "/"),
		http:     config.HTTPClient,
		limiter:  limiter,
		logger:   config.Logger.With(slog.String("component", "engine_client")),
		failures: make([]time.Time, config.CircuitThreshold),
	}
	c.state.Store(int32(StateConnected))
	return c, nil
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsAvailable returns true if the engine accepts requests.
func (c *Client) IsAvailable() bool {
	state := c.GetState()
	return state == StateConnected || state == StateHalfOpen
}

// HasFast reports whether the engine supports insert_fast.
func (c *Client) HasFast() bool { return c.config.SupportsFast }

// Insert ingests one document through the full pipeline.
func (c *Client) Insert(ctx context.Context, content string, meta map[string]string) error {
	return c.insert(ctx, "/insert", content, meta)
}

// InsertFast ingests with deferred graph enrichment.
func (c *Client) InsertFast(ctx context.Context, content string, meta map[string]string) error {
	if !c.config.SupportsFast {
		return c.insert(ctx, "/insert", content, meta)
	}
	return c.insert(ctx, "/insert_fast", content, meta)
}

func (c *Client) insert(ctx context.Context, path, content string, meta map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.InsertTimeout)
	defer cancel()

	payload := map[string]any{"content": content}
	if len(meta) > 0 {
		payload["metadata"] = meta
	}
	if c.config.Model != "" {
		payload["model"] = c.config.Model
	}
	return c.execute(ctx, "engine.insert", func(ctx context.Context) error {
		return c.post(ctx, path, payload, nil)
	})
}

// Query runs one retrieval in the given mode.
func (c *Client) Query(ctx context.Context, text string, mode QueryMode, params QueryParams) (QueryResult, error) {
	if !mode.Valid() {
		return QueryResult{}, fmt.Errorf("unknown query mode %q", mode)
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.QueryTimeout)
	defer cancel()

	payload := map[string]any{
		"query": text,
		"mode":  string(mode),
	}
	if params.TopK > 0 {
		payload["top_k"] = params.TopK
	}
	if params.OnlyContext {
		payload["only_need_context"] = true
	}
	if params.ResponseType != "" {
		payload["response_type"] = params.ResponseType
	}

	var resp struct {
		Response string `json:"response"`
	}
	start := time.Now()
	err := c.execute(ctx, "engine.query", func(ctx context.Context) error {
		return c.post(ctx, "/query", payload, &resp)
	})
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Text: resp.Response, Duration: time.Since(start)}, nil
}

// DocumentCount returns the number of processed documents.
func (c *Client) DocumentCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.execute(ctx, "engine.document_count", func(ctx context.Context) error {
		return c.get(ctx, "/documents/count", &resp)
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DocStatusLookup fetches the status entry for one document id.
// Returns (nil, nil) when the engine does not know the document.
func (c *Client) DocStatusLookup(ctx context.Context, docID string) (*DocStatus, error) {
	var status DocStatus
	err := c.execute(ctx, "engine.doc_status", func(ctx context.Context) error {
		return c.get(ctx, "/documents/"+docID, &status)
	})
	if err != nil {
		var httpErr *statusError
		if errors.As(err, &httpErr) && httpErr.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// Health probes the engine's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.execute(ctx, "engine.health", func(ctx context.Context) error {
		return c.get(ctx, "/health", nil)
	})
}

// Close marks the client closed. In-flight requests complete.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// -----------------------------------------------------------------------------
// Execution with retry and circuit breaker
// -----------------------------------------------------------------------------

// execute runs fn with rate limiting, retry, and breaker protection.
func (c *Client) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	ctx, span := otel.Tracer("engine").Start(ctx, op,
		trace.WithAttributes(attribute.String("state", c.GetState().String())))
	defer span.End()

	switch c.GetState() {
	case StateCircuitOpen:
		if c.shouldTryHalfOpen() {
			c.transitionState(StateHalfOpen)
		} else {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
	case StateHalfOpen:
		if !c.halfOpenTest.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "circuit open (half-open busy)")
			return ErrCircuitOpen
		}
		defer c.halfOpenTest.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", backoff.Milliseconds()),
			))
			select {
			case <-ctx.Done():
				return wrapEngineError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return wrapEngineError(err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			c.recordSuccess()
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}

	c.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries failed")
	return wrapEngineError(lastErr)
}

// transitionState changes state and logs the transition.
func (c *Client) transitionState(newState ConnectionState) {
	oldState := ConnectionState(c.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	c.logger.Info("engine state transition",
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()))
}

// recordSuccess records a successful request.
func (c *Client) recordSuccess() {
	switch c.GetState() {
	case StateHalfOpen, StateDegraded:
		c.transitionState(StateConnected)
		c.resetFailures()
	}
}

// recordFailure records a failed request and may open the circuit.
func (c *Client) recordFailure() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()

	now := time.Now()
	c.failures[c.failureIdx] = now
	c.failureIdx = (c.failureIdx + 1) % len(c.failures)

	windowStart := now.Add(-c.config.CircuitWindow)
	count := 0
	for _, t := range c.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}

	if count >= c.config.CircuitThreshold {
		if c.GetState() != StateCircuitOpen {
			c.circuitOpenTime.Store(now.Unix())
			c.transitionState(StateCircuitOpen)
			c.logger.Warn("circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", c.config.CircuitWindow))
		}
	} else if c.GetState() == StateConnected {
		c.transitionState(StateDegraded)
	}
}

// resetFailures clears the failure buffer.
func (c *Client) resetFailures() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	for i := range c.failures {
		c.failures[i] = time.Time{}
	}
	c.failureIdx = 0
}

// shouldTryHalfOpen checks if the cooldown expired.
func (c *Client) shouldTryHalfOpen() bool {
	openTime := time.Unix(c.circuitOpenTime.Load(), 0)
	return time.Since(openTime) >= c.config.CircuitCooldown
}

// calculateBackoff returns exponential backoff with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > c.config.MaxRetryBackoff {
		backoff = c.config.MaxRetryBackoff
	}
	jitterRange := float64(backoff) * c.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = c.config.RetryBackoff
	}
	return backoff
}

// -----------------------------------------------------------------------------
// HTTP plumbing
// -----------------------------------------------------------------------------

// statusError carries a non-2xx HTTP response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &statusError{code: resp.StatusCode, body: msg}
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

// isRetryable determines if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// 429 and 5xx mean the engine is overloaded or restarting.
	var httpErr *statusError
	if errors.As(err, &httpErr) {
		return httpErr.code == http.StatusTooManyRequests || httpErr.code >= 500
	}

	// Connection errors: server might be starting or restarting.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// wrapEngineError maps low-level failures onto the package errors.
func wrapEngineError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return err
}
