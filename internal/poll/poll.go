// Package poll issues GET requests until the response satisfies a predicate.
package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	Retries = 5
	Delay   = 100 * time.Millisecond
)

var ErrNotSatisfied = errors.New("didn't get response that satisfies predicate")

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Predicate decides whether polling may stop
type Predicate func(*Response) bool

// StatusIs is satisfied by responses with the given status code
func StatusIs(code int) Predicate {
	return func(r *Response) bool { return r.StatusCode == code }
}

// Get issues a single GET and reads the whole body
func Get(ctx context.Context, client *http.Client, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: string(body)}, nil
}

// Retry gets url, then retries up to Retries times with Delay between
// attempts while the predicate does not hold. Transport errors count as
// unsatisfied attempts. The last response is returned with the error.
func Retry(ctx context.Context, client *http.Client, url string, pred Predicate) (*Response, error) {
	var (
		last    *Response
		lastErr error
	)
	for attempt := 0; attempt <= Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(Delay):
			}
		}
		resp, err := Get(ctx, client, url)
		if err != nil {
			lastErr = err
			continue
		}
		last = resp
		if pred(resp) {
			return resp, nil
		}
	}
	if last == nil && lastErr != nil {
		return nil, fmt.Errorf("%w after %d retries: %w", ErrNotSatisfied, Retries, lastErr)
	}
	return last, fmt.Errorf("%w after %d retries", ErrNotSatisfied, Retries)
}
