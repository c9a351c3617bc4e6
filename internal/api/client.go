// SPDX-License-Identifier: MPL-2.0

// Package api is the HTTP client for the kaven marketplace: authentication,
// entitlements, license validation, module releases and artifact downloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
)

const (
	// DefaultBaseURL is the production marketplace endpoint.
	DefaultBaseURL = "https://api.kaven.sh"

	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultRetries is the number of attempts made for a transient failure.
	DefaultRetries = 3

	// maxJSONResponseBytes is the upper bound on JSON API response size (10 MB).
	maxJSONResponseBytes = 10 << 20

	// maxErrorBodyBytes is how much of an error response is kept for messages.
	maxErrorBodyBytes = 4 << 10
)

// ErrUnauthorized is wrapped by a *StatusError for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

type (
	// StatusError is a non-2xx response from the marketplace.
	StatusError struct {
		Method     string
		URL        string
		StatusCode int
		Message    string
	}

	// Client talks to the marketplace. It is safe for concurrent use.
	Client struct {
		httpClient *http.Client
		baseURL    string
		userAgent  string
		timeout    time.Duration
		retries    uint
		newBackOff func() backoff.BackOff
		logger     *log.Logger
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)

	// errorBody is the JSON error envelope returned by the marketplace.
	errorBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
)

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the marketplace base URL.
func WithBaseURL(base string) ClientOption {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(base, "/")
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithRetries sets how many attempts a transient failure gets. Values below
// one mean a single attempt.
func WithRetries(n int) ClientOption {
	return func(cl *Client) {
		cl.retries = uint(max(n, 1))
	}
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(newBackOff func() backoff.BackOff) ClientOption {
	return func(cl *Client) {
		cl.newBackOff = newBackOff
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *log.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a Client. Defaults: baseURL=DefaultBaseURL,
// timeout=DefaultTimeout, retries=DefaultRetries, exponential backoff.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		userAgent:  "kaven/dev",
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard)
	}
	return c
}

// BaseURL returns the configured marketplace endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// doJSON sends body (when non-nil) as JSON and decodes a 2xx response into
// out (when non-nil). Transient failures are retried.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	reqURL := c.resolve(path)

	_, err := c.retry(ctx, method, reqURL, func(attemptCtx context.Context) (struct{}, error) {
		var reader io.Reader = http.NoBody
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		resp, err := c.send(attemptCtx, method, reqURL, token, reader)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = resp.Body.Close() }() // read-only response body

		if err := checkStatus(method, reqURL, resp); err != nil {
			return struct{}{}, err
		}
		if out == nil {
			return struct{}{}, nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%s %s: decoding response: %w", method, redactURL(reqURL), err))
		}
		return struct{}{}, nil
	})
	return err
}

// retry runs op with a fresh per-attempt timeout until it succeeds, returns a
// permanent error, or the attempt budget is spent.
func (c *Client) retry(ctx context.Context, method, reqURL string, op func(context.Context) (struct{}, error)) (struct{}, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		res, err := op(attemptCtx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return res, backoff.Permanent(ctx.Err())
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return res, err
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			return res, backoff.Permanent(err)
		}
		c.logger.Debug("request failed, retrying", "method", method, "url", redactURL(reqURL), "attempt", attempt, "err", err)
		return res, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.retries),
	)
}

// send executes one request with the common headers. A bearer token is only
// attached to requests for the marketplace host.
func (c *Client) send(ctx context.Context, method, reqURL, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" && c.isMarketplaceHost(req.URL) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// checkStatus turns a non-2xx response into a *StatusError. A 429 carrying
// Retry-After is retried after the advertised delay.
func checkStatus(method, reqURL string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{Method: method, URL: redactURL(reqURL), StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes)) //nolint:errcheck // Best-effort error detail.
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		statusErr.Message = eb.Message
		if statusErr.Message == "" {
			statusErr.Message = eb.Error
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return errors.Join(statusErr, backoff.RetryAfter(secs))
		}
	}
	return statusErr
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) isMarketplaceHost(reqURL *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(reqURL.Host, base.Host)
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in error messages; signed artifact URLs carry credentials in the query.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
