/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package request is the outbound HTTP primitive every external call goes
// through: hard timeout, bounded retries with exponential backoff and jitter,
// correlation ids for log tracing, and a typed error that tells callers
// whether another attempt later could still succeed.
package request

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultBackoffBase = 500 * time.Millisecond
	maxBackoffDelay    = 30 * time.Second

	// responses are capped to keep delivery logs and memory bounded
	maxResponseBytes = 64 * 1024
)

// retriableStatuses are the HTTP codes worth another attempt.
var retriableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ExternalAPIError is raised when a call is exhausted or refused. Retriable
// tells the caller whether scheduling another attempt later makes sense.
type ExternalAPIError struct {
	Service    string `json:"service"`
	StatusCode int    `json:"status_code,omitempty"`
	Retriable  bool   `json:"retriable"`
	Err        error  `json:"-"`
}

func (e *ExternalAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed with status %d (retriable=%t)", e.Service, e.StatusCode, e.Retriable)
	}
	return fmt.Sprintf("%s request failed: %v (retriable=%t)", e.Service, e.Err, e.Retriable)
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Options tunes a single call. Zero values fall back to client defaults.
type Options struct {
	Method            string
	Body              interface{}       // marshaled to JSON unless RawBody is set
	RawBody           []byte            // sent verbatim, signature-sensitive callers use this
	Headers           map[string]string
	Timeout           time.Duration
	Retries           int   // additional attempts after the first
	SkipRetryOnStatus []int // status codes the caller opts out of retrying
}

// Response is the raw outcome of a call. JSON decoding is opt-in so webhook
// receivers that return arbitrary bodies do not fail the delivery.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Ok reports whether the response status counts as a delivered notification
// (2xx or 3xx).
func (r *Response) Ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// Client is a reusable outbound HTTP client bound to a named external
// service. The name shows up in logs and typed errors.
type Client struct {
	service     string
	httpClient  *http.Client
	backoffBase time.Duration
}

// NewClient returns a client for the named external service.
func NewClient(service string) *Client {
	return &Client{
		service:     service,
		httpClient:  &http.Client{},
		backoffBase: defaultBackoffBase,
	}
}

func (c *Client) payload(opts Options) ([]byte, error) {
	if opts.RawBody != nil {
		return opts.RawBody, nil
	}
	if opts.Body == nil {
		return nil, nil
	}
	return json.Marshal(opts.Body)
}

// RetriableStatusCodes lists the statuses Do retries by default. Callers
// that manage their own retry schedule opt them all out so a failing
// Response still comes back with its status and body.
func RetriableStatusCodes() []int {
	codes := make([]int, 0, len(retriableStatuses))
	for code := range retriableStatuses {
		codes = append(codes, code)
	}
	return codes
}

func skipRetry(status int, skip []int) bool {
	for _, s := range skip {
		if s == status {
			return true
		}
	}
	return false
}

// Do performs the call. On timeout or network error it retries up to
// opts.Retries times with exponential backoff (base doubled per attempt, up
// to 10% jitter, capped), and does the same for retriable HTTP statuses
// (408, 429, 500, 502, 503, 504) unless the caller opted the status out.
// Non-retriable statuses are returned as a Response for the caller to
// inspect, not an error.
func (c *Client) Do(ctx context.Context, url string, opts Options) (*Response, error) {
	correlationID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{
		"service":        c.service,
		"correlation_id": correlationID,
		"url":            url,
	})

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	body, err := c.payload(opts)
	if err != nil {
		return nil, &ExternalAPIError{Service: c.service, Retriable: false, Err: err}
	}

	var response *Response
	attempt := 0

	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, method, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", correlationID)
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.WithField("attempt", attempt).WithError(err).Warn("request failed")
			return err // network error or timeout, retriable
		}
		defer func() {
			if cerr := resp.Body.Close(); cerr != nil {
				logrus.Error(cerr)
			}
		}()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}

		response = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}

		if retriableStatuses[resp.StatusCode] && !skipRetry(resp.StatusCode, opts.SkipRetryOnStatus) {
			log.WithFields(logrus.Fields{"attempt": attempt, "status": resp.StatusCode}).Warn("retriable status")
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.backoffBase
	expBackoff.Multiplier = 2
	expBackoff.RandomizationFactor = 0.1
	expBackoff.MaxInterval = maxBackoffDelay

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(opts.Retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		apiErr := &ExternalAPIError{Service: c.service, Retriable: true, Err: err}
		if response != nil {
			apiErr.StatusCode = response.StatusCode
		}
		log.WithError(err).Error("request exhausted retries")
		return nil, apiErr
	}

	log.WithFields(logrus.Fields{"attempt": attempt, "status": response.StatusCode}).Debug("request completed")
	return response, nil
}

// DoJSON performs the call and decodes the JSON response into out.
func (c *Client) DoJSON(ctx context.Context, url string, opts Options, out interface{}) (*Response, error) {
	resp, err := c.Do(ctx, url, opts)
	if err != nil {
		return resp, err
	}
	if out != nil {
		if err := resp.JSON(out); err != nil {
			return resp, &ExternalAPIError{Service: c.service, StatusCode: resp.StatusCode, Retriable: false, Err: err}
		}
	}
	return resp, nil
}

// BasicAuth encodes the credentials for an Authorization header.
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
