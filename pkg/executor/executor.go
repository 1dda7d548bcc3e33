// Package executor implements the shared fetch path every connector runs
// through: validate parameters, canonicalize, fingerprint, consult the
// cache, acquire a rate permit, execute with retry, normalize the response
// into a Table, and store the result.
package executor

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/cache"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/clients"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/credentials"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/metrics"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/request"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/table"
)

// HTTPGetter is the outbound transport the executor drives. *clients.
// HTTPClient satisfies it; tests substitute counting fakes.
type HTTPGetter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*clients.Response, error)
}

// Options assembles one executor. Namespace, BaseURL, and Client are
// required; everything else has a working zero value.
type Options struct {
	// Namespace partitions the cache and labels metrics, one per
	// connector instance.
	Namespace string
	// BaseURL is the upstream root every endpoint is resolved against.
	BaseURL string
	// Schemas declares per-endpoint parameter constraints. Endpoints with
	// no entry accept any parameter that passes the unconditional safety
	// rules.
	Schemas map[string]*request.Schema
	// Store caches normalized responses; nil disables caching.
	Store *cache.FileStore
	// Limiter gates outbound requests; nil disables rate limiting.
	Limiter clients.RateLimiter
	// Retry wraps each request; nil selects the default policy.
	Retry *clients.RetryPolicy
	// Client performs the requests.
	Client HTTPGetter
	// Logger receives structured fetch-path events.
	Logger *zap.Logger
	// Metrics receives instrumentation; nil selects a fresh collector.
	Metrics *metrics.Collector
	// TTL applies to stored responses; zero selects one hour.
	TTL time.Duration
	// AuthHeader names a request header to carry the credential value.
	AuthHeader string
	// AuthQuery names a query parameter to carry the credential value.
	// The credential is applied after fingerprinting, so cache keys never
	// depend on the secret.
	AuthQuery string
	// Credential is the resolved API key, if any.
	Credential *credentials.Credential
}

// Executor is the per-connector fetch pipeline. It holds no global state;
// two executors never contend on budgets or cache partitions.
type Executor struct {
	namespace  string
	baseURL    *url.URL
	schemas    map[string]*request.Schema
	store      *cache.FileStore
	limiter    clients.RateLimiter
	retry      *clients.RetryPolicy
	client     HTTPGetter
	logger     *zap.Logger
	metrics    *metrics.Collector
	ttl        time.Duration
	authHeader string
	authQuery  string
	credential *credentials.Credential
}

// New validates opts and builds an executor.
func New(opts Options) (*Executor, error) {
	if opts.Namespace == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "executor requires a namespace")
	}
	if opts.Client == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "executor requires an HTTP client")
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parsing base URL")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf(errors.ErrorTypeSecurity,
			"base URL scheme %q is not permitted, only http and https", base.Scheme)
	}
	if base.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "base URL has no host")
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	coll := opts.Metrics
	if coll == nil {
		coll = metrics.NewCollector(opts.Namespace)
	}
	retry := opts.Retry
	if retry == nil {
		retry = clients.DefaultRetryPolicy()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Executor{
		namespace:  opts.Namespace,
		baseURL:    base,
		schemas:    opts.Schemas,
		store:      opts.Store,
		limiter:    opts.Limiter,
		retry:      retry,
		client:     opts.Client,
		logger:     log.With(zap.String("component", "executor"), zap.String("namespace", opts.Namespace)),
		metrics:    coll,
		ttl:        ttl,
		authHeader: opts.AuthHeader,
		authQuery:  opts.AuthQuery,
		credential: opts.Credential,
	}, nil
}

// Namespace returns the connector namespace this executor serves.
func (e *Executor) Namespace() string {
	return e.namespace
}

// Metrics returns the instance collector.
func (e *Executor) Metrics() *metrics.Collector {
	return e.metrics
}

// Fetch runs the full pipeline for one endpoint and returns the normalized
// table. Validation and security failures return immediately without
// touching the network, the limiter, or the cache. A cache hit consumes no
// rate permit. A successful upstream response with no rows yields an empty
// table, not an error.
func (e *Executor) Fetch(ctx context.Context, endpoint string, params map[string]string) (*table.Table, error) {
	start := time.Now()

	if err := request.ValidateEndpoint(endpoint); err != nil {
		e.metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	schema := e.schemas[endpoint]
	if schema == nil {
		schema = request.NewSchema()
	}
	if err := schema.Validate(params); err != nil {
		e.metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	desc := request.NewDescriptor(e.namespace, endpoint, schema.Canonicalize(params))

	if tbl, ok := e.cached(desc.Fingerprint); ok {
		e.metrics.RecordRequest("cache_hit", time.Since(start))
		e.logger.Debug("cache hit",
			zap.String("endpoint", endpoint),
			zap.String("fingerprint", desc.Fingerprint))
		return tbl, nil
	}

	fullURL, err := e.buildURL(endpoint, desc.Params)
	if err != nil {
		e.metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	if e.limiter != nil {
		if !e.limiter.Allow() {
			e.metrics.RecordRateLimited()
			// Allow consumed nothing; Acquire blocks (or fails fast)
			// until a permit is available.
			if err := e.limiter.Acquire(ctx); err != nil {
				e.metrics.RecordRequest("error", time.Since(start))
				return nil, err
			}
		}
	}

	var resp *clients.Response
	err = e.retry.Execute(ctx, e.logger, func() error {
		var reqErr error
		resp, reqErr = e.client.Get(ctx, fullURL, e.headers())
		if reqErr != nil && errors.IsTransient(reqErr) {
			e.metrics.RecordRetry()
		}
		return reqErr
	})
	if err != nil {
		e.metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	tbl, err := Normalize(resp.ContentType, resp.Body)
	if err != nil {
		e.metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	e.storeResult(desc.Fingerprint, tbl)

	e.metrics.RecordRequest("success", time.Since(start))
	e.logger.Info("fetch complete",
		zap.String("endpoint", endpoint),
		zap.Int("rows", tbl.NumRows()),
		zap.Duration("elapsed", time.Since(start)))
	return tbl, nil
}

// cached loads and decodes a cache entry. Any failure is treated as a miss
// so the request proceeds to the network.
func (e *Executor) cached(fingerprint string) (*table.Table, bool) {
	if e.store == nil {
		return nil, false
	}

	payload, ok, err := e.store.Get(fingerprint)
	if err != nil || !ok {
		if err != nil {
			e.logger.Warn("cache read failed", zap.Error(err))
		}
		e.metrics.RecordCacheEvent("miss")
		return nil, false
	}

	var tbl table.Table
	if err := tbl.UnmarshalJSON(payload); err != nil {
		e.logger.Warn("cached payload not decodable, refetching",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		e.metrics.RecordCacheEvent("miss")
		return nil, false
	}

	e.metrics.RecordCacheEvent("hit")
	return &tbl, true
}

// storeResult writes the normalized table back to the cache. Failures are
// logged and swallowed; caching is an optimization, not a correctness
// requirement.
func (e *Executor) storeResult(fingerprint string, tbl *table.Table) {
	if e.store == nil {
		return
	}

	payload, err := tbl.MarshalJSON()
	if err != nil {
		e.logger.Warn("failed to encode table for cache", zap.Error(err))
		return
	}
	if err := e.store.Put(fingerprint, payload, e.ttl); err != nil {
		e.logger.Warn("cache write failed", zap.Error(err))
		return
	}
	e.metrics.RecordCacheEvent("write")
}

// buildURL resolves endpoint against the base URL and encodes the
// canonical parameters. The resolved URL must stay on the configured
// scheme and host; an endpoint that rewrites either is rejected.
func (e *Executor) buildURL(endpoint string, params map[string]string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "parsing endpoint")
	}

	resolved := e.baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", errors.Newf(errors.ErrorTypeSecurity,
			"resolved URL scheme %q is not permitted, only http and https", resolved.Scheme)
	}
	if resolved.Host != e.baseURL.Host {
		return "", errors.Newf(errors.ErrorTypeSecurity,
			"endpoint %q resolves off the configured host", endpoint)
	}

	query := resolved.Query()
	for k, v := range params {
		query.Set(k, v)
	}
	if e.authQuery != "" && e.credential != nil {
		query.Set(e.authQuery, e.credential.Value)
	}
	resolved.RawQuery = query.Encode()

	return resolved.String(), nil
}

// headers builds the per-request header set.
func (e *Executor) headers() map[string]string {
	if e.authHeader == "" || e.credential == nil {
		return nil
	}
	return map[string]string{e.authHeader: e.credential.Value}
}
