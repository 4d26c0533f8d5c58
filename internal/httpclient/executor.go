// Package httpclient executes outbound JSON calls with per-host rate limiting and retries.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	service      string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. service tags logs and metrics. errorHandler turns 4xx
// responses into errors; when nil a generic error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	service string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		service:      service,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the response into out.
// rateLimitKey scopes the limiter. Requests with a body must be replayable (GetBody set).
// Transport failures and 5xx responses are retried; 4xx responses are returned at once.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		retry, err := e.try(ctx, req, attempt, out)
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s request failed after %d attempts: %w", e.service, e.retryMax+1, lastErr)
}

// try performs one attempt. retry is true when the failure is transient.
func (e *Executor) try(ctx context.Context, req *http.Request, attempt int, out any) (retry bool, err error) {
	r, err := replay(ctx, req, attempt)
	if err != nil {
		return false, err
	}
	url := zap.String("url", req.URL.String())

	start := time.Now()
	status, body, err := e.send(r)
	elapsed := time.Since(start)
	metrics.ObserveOutbound(e.service, status, elapsed)

	switch {
	case err != nil:
		e.logger.Warn(e.service+".http_failed", url, zap.Int("attempt", attempt), zap.Error(err))
		return true, err
	case status >= http.StatusInternalServerError:
		e.logger.Warn(e.service+".server_error", url, zap.Int("status", status), zap.Duration("latency", elapsed))
		return true, fmt.Errorf("%s server error: %d", e.service, status)
	case status >= http.StatusBadRequest:
		if e.errorHandler != nil {
			return false, e.errorHandler(status, body)
		}
		return false, fmt.Errorf("%s returned %d", e.service, status)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			e.logger.Warn(e.service+".decode_failed", url, zap.Error(err))
			return false, fmt.Errorf("decode failed: %w", err)
		}
	}
	e.logger.Debug(e.service+".http_success", url, zap.Int("status", status), zap.Duration("elapsed", elapsed))
	return false, nil
}

func (e *Executor) send(req *http.Request) (int, []byte, error) {
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func replay(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(ctx)
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed for retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replay body: %w", err)
	}
	r.Body = body
	return r, nil
}
