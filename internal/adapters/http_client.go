package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

const defaultHTTPTimeout = 60 * time.Second
const defaultHTTPRetries = 3
const defaultHTTPRetryDelay = 200 * time.Millisecond
const maxHTTPRetryDelay = 2 * time.Second

type httpRetryConfig struct {
	timeout   time.Duration
	retries   int
	baseDelay time.Duration
}

func normalizeHTTPConfig(timeoutSec int, retries int, delayMs int) httpRetryConfig {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	retryCount := retries
	if retryCount <= 0 {
		retryCount = defaultHTTPRetries
	}
	baseDelay := time.Duration(delayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = defaultHTTPRetryDelay
	}
	return httpRetryConfig{
		timeout:   timeout,
		retries:   retryCount,
		baseDelay: baseDelay,
	}
}

// doRequest issues a GET, retrying transport failures, 5xx and 429 with
// capped exponential backoff. Other responses are returned as-is.
func doRequest(ctx context.Context, url string, user string, apiKey string, cfg httpRetryConfig) (*http.Response, error) {
	client := &http.Client{Timeout: cfg.timeout}
	var lastErr error
	for attempt := 0; attempt < cfg.retries; attempt++ {
		if ctx.Err() != nil {
			return nil, canceledRequest(ctx)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid feed url %s", url)).
				WithCause(err)
		}
		if strings.TrimSpace(apiKey) != "" {
			authUser := strings.TrimSpace(user)
			if authUser == "" {
				authUser = "api"
			}
			req.SetBasicAuth(authUser, apiKey)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, canceledRequest(ctx)
			}
			lastErr = err
			if attempt < cfg.retries-1 {
				if !waitRetry(ctx, httpRetryDelay(attempt, cfg)) {
					return nil, canceledRequest(ctx)
				}
				continue
			}
			break
		}
		if (resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests) && attempt < cfg.retries-1 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if !waitRetry(ctx, httpRetryDelay(attempt, cfg)) {
				return nil, canceledRequest(ctx)
			}
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("request failed")
	}
	return nil, errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("request to %s failed", url)).
		WithCause(lastErr)
}

func httpRetryDelay(attempt int, cfg httpRetryConfig) time.Duration {
	delay := cfg.baseDelay * time.Duration(1<<attempt)
	if delay > maxHTTPRetryDelay {
		delay = maxHTTPRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func canceledRequest(ctx context.Context) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("request canceled").
		WithCause(ctx.Err())
}
