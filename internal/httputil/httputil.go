// Package httputil sends JSON API requests with retries on transient failures.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxErrorBody = 512
	maxRetries   = 4
)

// StatusError is returned for responses with a 4xx or 5xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// Retryable reports whether a response with the status code may succeed later.
func Retryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// NewBackOff returns the default retry policy: exponential with a bounded
// number of retries.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, maxRetries)
}

type Client struct {
	HTTPClient *http.Client           // required
	NewBackOff func() backoff.BackOff // optional, default: NewBackOff
	Log        *slog.Logger           // optional, default: slog.Default()
}

// Do sends the request built by newRequest and decodes a successful JSON
// body into result unless result is nil. newRequest is called once per
// attempt. Network errors and retryable statuses are retried, other 4xx
// statuses return a *StatusError right away.
func (c *Client) Do(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error), result any) (http.Header, error) {
	newBackOff := c.NewBackOff
	if newBackOff == nil {
		newBackOff = NewBackOff
	}
	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	var header http.Header
	operation := func() error {
		req, err := newRequest(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
			if Retryable(resp.StatusCode) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		if result != nil {
			if err = json.NewDecoder(resp.Body).Decode(result); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		header = resp.Header
		return nil
	}
	notify := func(err error, d time.Duration) {
		log.Debug("retrying request", "error", err, "delay", d)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return header, nil
}
