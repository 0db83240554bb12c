package request

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	c := NewClient("test-service")
	c.backoffBase = time.Millisecond
	return c
}

func TestDoSuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://example.com/hook",
		httpmock.NewStringResponder(200, `{"ok":true}`))

	resp, err := newTestClient().Do(context.Background(), "http://example.com/hook", Options{
		Body: map[string]string{"event": "sale"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Ok())

	var decoded map[string]bool
	require.NoError(t, resp.JSON(&decoded))
	assert.True(t, decoded["ok"])
}

func TestDoRetriesOn503(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("POST", "http://example.com/flaky",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(503, "unavailable"), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	resp, err := newTestClient().Do(context.Background(), "http://example.com/flaky", Options{Retries: 4})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustionRaisesTypedError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://example.com/down",
		httpmock.NewStringResponder(503, "unavailable"))

	_, err := newTestClient().Do(context.Background(), "http://example.com/down", Options{Retries: 2})
	require.Error(t, err)

	apiErr, ok := err.(*ExternalAPIError)
	require.True(t, ok)
	assert.Equal(t, "test-service", apiErr.Service)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.True(t, apiErr.Retriable)
	// first attempt plus two retries
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestDoSkipRetryOnStatus(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://example.com/limited",
		httpmock.NewStringResponder(429, "slow down"))

	resp, err := newTestClient().Do(context.Background(), "http://example.com/limited", Options{
		Retries:           5,
		SkipRetryOnStatus: []int{429},
	})
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDoNonRetriableStatusReturnsResponse(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://example.com/bad",
		httpmock.NewStringResponder(400, "bad payload"))

	resp, err := newTestClient().Do(context.Background(), "http://example.com/bad", Options{Retries: 3})
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	assert.False(t, resp.Ok())
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDoRawBodySentVerbatim(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	raw := []byte(`{"event":"sale","data":{"payout":"10"}}`)
	var seen []byte
	httpmock.RegisterResponder("POST", "http://example.com/signed",
		func(req *http.Request) (*http.Response, error) {
			buf := make([]byte, len(raw))
			_, _ = req.Body.Read(buf)
			seen = buf
			return httpmock.NewStringResponse(200, ""), nil
		})

	_, err := newTestClient().Do(context.Background(), "http://example.com/signed", Options{RawBody: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, seen)
}

func TestBasicAuth(t *testing.T) {
	assert.Equal(t, "dXNlcjpwYXNz", BasicAuth("user", "pass"))
}
