package clients

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// userAgent identifies the runtime to upstream APIs.
const userAgent = "krl-connectors/1.0"

// maxResponseBytes caps how much of an upstream body is read into memory.
const maxResponseBytes = 64 << 20 // 64 MiB

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	DisableCompression  bool          `json:"disable_compression"`

	// HTTP/2 settings
	EnableHTTP2 bool `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	// TLS settings
	TLSMinVersion uint16 `json:"tls_min_version"`
}

// DefaultHTTPConfig returns defaults sized for interactive analyst use.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		EnableHTTP2:           true,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		RequestTimeout:        30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSMinVersion:         tls.VersionTLS12,
	}
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
}

// HTTPClient wraps net/http with the transport tuning and error
// classification the retry policy depends on. Every call carries an
// explicit timeout; exceeding it is a transient failure.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
}

// NewHTTPClient creates an HTTP client from config. A nil config selects
// defaults.
func NewHTTPClient(config *HTTPConfig, log *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := &HTTPClient{
		config: config,
		logger: log.With(zap.String("component", "http_client")),
	}

	client.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		DisableCompression:    config.DisableCompression,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: config.TLSMinVersion,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
	}

	return client
}

// SetTransport replaces the underlying round tripper, for tests with mock
// transports.
func (c *HTTPClient) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

// Get performs a GET and classifies the outcome into the runtime error
// taxonomy: connection and timeout failures and 5xx/429 statuses are
// transient, other statuses are terminal upstream errors.
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "building request")
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "reading response body")
	}

	c.logger.Debug("request complete",
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, statusError(resp, body)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// classifyTransportError maps transport failures onto the taxonomy.
func classifyTransportError(err error) *errors.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.ErrorTypeInternal, "request cancelled")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
}

// statusError builds an upstream error for a non-2xx response, carrying
// the status code and any Retry-After hint. Bodies are summarized, not
// echoed, since upstream error pages can be arbitrarily large.
func statusError(resp *http.Response, body []byte) *errors.Error {
	err := errors.Newf(errors.ErrorTypeUpstream,
		"upstream returned %d %s (%d byte body)",
		resp.StatusCode, http.StatusText(resp.StatusCode), len(body)).
		WithStatus(resp.StatusCode)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if delay := ParseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			err = WithRetryAfter(err, delay)
		}
	}
	return err
}

// ParseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form, capped at one hour.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.transport.CloseIdleConnections()
}
