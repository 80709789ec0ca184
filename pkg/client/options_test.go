package client

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithHTTPClient(t *testing.T) {
	custom := &http.Client{Timeout: 60 * time.Second}
	c, err := NewClient("http://localhost", WithHTTPClient(custom))
	require.NoError(t, err)
	assert.Same(t, custom, c.httpClient)

	c, err = NewClient("http://localhost", WithHTTPClient(nil))
	require.NoError(t, err)
	assert.NotNil(t, c.httpClient)
}

func TestWithTimeout(t *testing.T) {
	c, err := NewClient("http://localhost", WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)

	c, err = NewClient("http://localhost", WithTimeout(-1))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestWithLogger(t *testing.T) {
	logger := &testLogger{}
	c, err := NewClient("http://localhost", WithLogger(logger))
	require.NoError(t, err)
	assert.Same(t, logger, c.logger)
}

func TestWithRetryMax(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"positive value", 5, 5},
		{"zero value", 0, 0},
		{"negative value keeps default", -1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient("http://localhost", WithRetryMax(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, c.retryMax)
		})
	}
}

func TestWithRetryWait(t *testing.T) {
	tests := []struct {
		name             string
		min, max         time.Duration
		wantMin, wantMax time.Duration
	}{
		{"valid range", time.Second, 10 * time.Second, time.Second, 10 * time.Second},
		{"max below min keeps max", time.Second, time.Millisecond, time.Second, 5 * time.Second},
		{"non-positive min ignored", 0, time.Second, 500 * time.Millisecond, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient("http://localhost", WithRetryWait(tt.min, tt.max))
			require.NoError(t, err)
			assert.Equal(t, tt.wantMin, c.retryWaitMin)
			assert.Equal(t, tt.wantMax, c.retryWaitMax)
		})
	}
}

func TestWithUserAgentAndAPIKey(t *testing.T) {
	c, err := NewClient("http://localhost", WithUserAgent("lexner-cli/1.0"), WithAPIKey("k"), WithUserAgent(""))
	require.NoError(t, err)
	assert.Equal(t, "lexner-cli/1.0", c.userAgent)
	assert.Equal(t, "k", c.apiKey)
}
