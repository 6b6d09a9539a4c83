// Package gateway provides rate-limited HTTP clients for the two external
// systems. Both gateways share one transport that applies the per-system
// request spacing and the bounded retry policy, so callers never see a 429
// or a transient 5xx unless the budget is exhausted.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relayforge/bridge-engine/pkg/apperrors"
	"github.com/relayforge/bridge-engine/pkg/logging"
)

const (
	// DefaultTimeout is the maximum time to wait for a single response.
	DefaultTimeout = 60 * time.Second

	maxAttempts = 10

	// maxErrorBodyLength caps how much of a failing response body is kept
	// on the error.
	maxErrorBodyLength = 2048

	// Delay caps per failure class. Rate-limit waits may be told by the
	// server (Retry-After); server errors back off blindly.
	rateLimitDelayCap   = 30 * time.Second
	serverErrorDelayCap = 15 * time.Second
)

// APIError is a non-2xx response from either external system.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the failure class is transient. Rate limits
// and server errors are; other client errors are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether the error means the remote record does not
// exist, either as an HTTP 404 or as a normalized sentinel.
func IsNotFound(err error) bool {
	if errors.Is(err, apperrors.ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether the error is a rate-limit rejection that
// survived the full retry budget.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// apiClient is the shared transport: one token, one base URL, one limiter.
type apiClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	token      string
	logger     *zap.Logger
}

// newAPIClient builds a transport that spaces requests at least minInterval
// apart.
func newAPIClient(baseURL, token string, minInterval time.Duration, logger *zap.Logger) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(minInterval), 1),
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
	}
}

// do executes one logical API call: throttle, send, retry on 429/5xx/network
// failure, decode into out. Non-retryable 4xx responses surface immediately.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if werr := c.waitBeforeRetry(ctx, attempt, backoff(attempt, serverErrorDelayCap), endpoint, lastErr); werr != nil {
				return werr
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			if werr := c.waitBeforeRetry(ctx, attempt, backoff(attempt, serverErrorDelayCap), endpoint, lastErr); werr != nil {
				return werr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
			}
			return nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       logging.TruncateString(string(respBody), maxErrorBodyLength),
		}

		var delay time.Duration
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay = retryAfter(resp.Header, backoff(attempt, rateLimitDelayCap))
		case resp.StatusCode >= 500:
			delay = backoff(attempt, serverErrorDelayCap)
		default:
			// Client errors other than 429 will not get better by waiting.
			return apiErr
		}

		lastErr = apiErr
		if werr := c.waitBeforeRetry(ctx, attempt, delay, endpoint, lastErr); werr != nil {
			return werr
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (c *apiClient) waitBeforeRetry(ctx context.Context, attempt int, delay time.Duration, endpoint string, cause error) error {
	if attempt == maxAttempts-1 {
		// Last attempt already failed; no point sleeping.
		return nil
	}

	c.logger.Warn("Retrying request",
		zap.String("url", endpoint),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
		zap.String("error", logging.SanitizeError(cause)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff grows 1.5x per attempt from a one second base, capped per failure
// class.
func backoff(attempt int, limit time.Duration) time.Duration {
	d := time.Duration(math.Pow(1.5, float64(attempt)) * float64(time.Second))
	if d > limit {
		return limit
	}
	return d
}

// retryAfter honors a server-supplied wait in seconds (Retry-After, or the
// tracker's X-Rate-Limit-Reset), falling back to the computed backoff, never
// exceeding the rate-limit cap.
func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	d := fallback
	for _, header := range []string{"Retry-After", "X-Rate-Limit-Reset"} {
		if v := h.Get(header); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
				break
			}
		}
	}
	if d > rateLimitDelayCap {
		return rateLimitDelayCap
	}
	return d
}
