package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "abc", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"X-Api-Key": "abc"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestGetServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), srv.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, http.StatusInternalServerError, errors.StatusCode(err))
}

func TestGetNotFoundIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), srv.URL, nil)

	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
	assert.Equal(t, http.StatusNotFound, errors.StatusCode(err))
}

func TestGetRateLimitedCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), srv.URL, nil)

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, http.StatusTooManyRequests, errors.StatusCode(err))
	assert.Equal(t, 7*time.Second, retryAfterHint(err))
}

func TestGetTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	c := NewHTTPClient(cfg, zaptest.NewLogger(t))

	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestGetConnectionRefusedIsTransient(t *testing.T) {
	c := NewHTTPClient(nil, zaptest.NewLogger(t))

	// Reserved port with nothing listening.
	_, err := c.Get(context.Background(), "http://127.0.0.1:1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestStatusErrorDoesNotEchoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "secret internal detail", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	_, err := c.Get(context.Background(), srv.URL, nil)

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret internal detail")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5"))
	assert.Equal(t, time.Hour, ParseRetryAfter("86400"), "capped at one hour")

	future := time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, time.Minute)
	assert.LessOrEqual(t, d, 2*time.Minute)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("not a time"))
}
