// Package base provides the foundational Connector every data source
// embeds. It wires the per-instance runtime: credential resolution, the
// cache partition, the rate budget derived from credential presence, the
// retry policy, and the request executor.
//
// Usage:
//
//	type MySource struct {
//	    *base.Connector
//	}
//
//	func NewMySource() *MySource {
//	    return &MySource{Connector: base.New(base.Settings{
//	        Name:           "mysource",
//	        BaseURL:        "https://api.example.com",
//	        CredentialName: "mysource",
//	    })}
//	}
//
// Call Initialize before the first Fetch and Close when done.
package base

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/cache"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/clients"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/config"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/connector/core"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/credentials"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/executor"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/logger"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/metrics"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/request"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/table"
)

// Settings declares what a concrete source needs from the runtime.
type Settings struct {
	// Name identifies the connector and doubles as its cache namespace.
	Name string
	// Version is reported through the Connector interface.
	Version string
	// BaseURL is the upstream API root, http or https only.
	BaseURL string
	// Schemas declares per-endpoint parameter constraints.
	Schemas map[string]*request.Schema
	// CredentialName selects the credential to resolve; empty means the
	// source operates anonymously on the reduced rate budget.
	CredentialName string
	// CredentialRequired fails Initialize when the credential is missing
	// instead of falling back to anonymous access.
	CredentialRequired bool
	// APIKey optionally supplies the credential value directly, taking
	// precedence over environment and key-file resolution.
	APIKey string
	// AuthHeader names the request header carrying the credential.
	AuthHeader string
	// AuthQuery names the query parameter carrying the credential.
	AuthQuery string
	// TTL overrides the configured cache TTL for this source.
	TTL time.Duration
	// ConfigFile optionally names a YAML runtime config loaded when
	// Initialize receives a nil config. An explicit config wins.
	ConfigFile string
	// ResolverOptions customizes credential lookup, mainly for tests.
	ResolverOptions []credentials.Option
	// Transport overrides the outbound round tripper, for tests.
	Transport http.RoundTripper
}

// Connector implements core.Connector and owns one instance's runtime.
// Embedding sources delegate Fetch to it and add typed accessors on top.
type Connector struct {
	settings Settings
	version  string

	mu          sync.Mutex
	initialized bool
	closed      bool

	cfg        *config.RuntimeConfig
	logger     *zap.Logger
	credential *credentials.Credential
	store      *cache.FileStore
	limiter    clients.RateLimiter
	httpClient *clients.HTTPClient
	executor   *executor.Executor
	collector  *metrics.Collector
}

// New creates an uninitialized connector from settings.
func New(settings Settings) *Connector {
	version := settings.Version
	if version == "" {
		version = "1.0.0"
	}
	return &Connector{settings: settings, version: version}
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return c.settings.Name
}

// Version returns the connector version.
func (c *Connector) Version() string {
	return c.version
}

// Endpoints lists the endpoints with declared schemas, in no fixed order.
func (c *Connector) Endpoints() []string {
	endpoints := make([]string, 0, len(c.settings.Schemas))
	for endpoint := range c.settings.Schemas {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Initialize resolves the credential, derives the rate budget from its
// presence, opens the cache partition, and assembles the executor. A nil
// cfg loads the settings' config file when one is named, otherwise
// defaults. Initialize must complete before the first Fetch.
func (c *Connector) Initialize(ctx context.Context, cfg *config.RuntimeConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return errors.Newf(errors.ErrorTypeConfig, "connector %q already initialized", c.settings.Name)
	}
	if cfg == nil {
		if c.settings.ConfigFile != "" {
			loaded, err := config.LoadRuntimeConfig(c.settings.ConfigFile)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "loading config file")
			}
			cfg = loaded
		} else {
			cfg = config.NewRuntimeConfig(c.settings.Name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid runtime config")
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	log = log.With(zap.String("connector", c.settings.Name))

	credential, err := c.resolveCredential(log)
	if err != nil {
		return err
	}

	var store *cache.FileStore
	if !cfg.Cache.Disabled {
		store, err = cache.NewFileStore(cfg.Cache.Dir, c.settings.Name, log)
		if err != nil {
			return err
		}
	}

	budget := cfg.Reliability.BudgetFor(credential != nil)
	var limiterOpts []clients.LimiterOption
	if cfg.Reliability.FailFast {
		limiterOpts = append(limiterOpts, clients.WithFailFast())
	}
	limiter := clients.NewFixedWindowLimiter(budget, cfg.Reliability.RateWindow, limiterOpts...)

	retry := clients.NewRetryPolicy(cfg.Reliability.RetryAttempts, cfg.Reliability.RetryDelay)
	retry.Multiplier = cfg.Reliability.RetryMultiplier
	retry.MaxDelay = cfg.Reliability.MaxRetryDelay
	retry.RandomizeFactor = cfg.Reliability.RetryJitter

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.Timeouts.Request
	httpCfg.DialTimeout = cfg.Timeouts.Connection
	httpCfg.KeepAlive = cfg.Timeouts.KeepAlive
	httpClient := clients.NewHTTPClient(httpCfg, log)
	if c.settings.Transport != nil {
		httpClient.SetTransport(c.settings.Transport)
	}

	collector := metrics.NewCollector(c.settings.Name)

	ttl := c.settings.TTL
	if ttl <= 0 {
		ttl = cfg.Cache.DefaultTTL
	}

	exec, err := executor.New(executor.Options{
		Namespace:  c.settings.Name,
		BaseURL:    c.settings.BaseURL,
		Schemas:    c.settings.Schemas,
		Store:      store,
		Limiter:    limiter,
		Retry:      retry,
		Client:     httpClient,
		Logger:     log,
		Metrics:    collector,
		TTL:        ttl,
		AuthHeader: c.settings.AuthHeader,
		AuthQuery:  c.settings.AuthQuery,
		Credential: credential,
	})
	if err != nil {
		httpClient.Close()
		return err
	}

	c.cfg = cfg
	c.logger = log
	c.credential = credential
	c.store = store
	c.limiter = limiter
	c.httpClient = httpClient
	c.executor = exec
	c.collector = collector
	c.initialized = true

	log.Info("connector initialized",
		zap.Bool("authenticated", credential != nil),
		zap.Int("rate_budget", budget),
		zap.Bool("cache_enabled", store != nil))
	return nil
}

// resolveCredential resolves the configured credential, if any.
func (c *Connector) resolveCredential(log *zap.Logger) (*credentials.Credential, error) {
	if c.settings.CredentialName == "" {
		return nil, nil
	}

	opts := c.settings.ResolverOptions
	if c.settings.APIKey != "" {
		opts = append([]credentials.Option{credentials.WithExplicitValue(c.settings.APIKey)}, opts...)
	}
	resolver := credentials.NewResolver(log, opts...)
	return resolver.Resolve(c.settings.CredentialName, c.settings.CredentialRequired)
}

// Fetch runs the shared pipeline for one endpoint.
func (c *Connector) Fetch(ctx context.Context, endpoint string, params map[string]string) (*table.Table, error) {
	c.mu.Lock()
	exec := c.executor
	closed := c.closed
	c.mu.Unlock()

	if exec == nil || closed {
		return nil, errors.Newf(errors.ErrorTypeInternal, "connector %q is not initialized", c.settings.Name)
	}
	return exec.Fetch(ctx, endpoint, params)
}

// Budget returns a snapshot of the instance rate budget.
func (c *Connector) Budget() clients.RateBudget {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limiter == nil {
		return clients.RateBudget{}
	}
	return c.limiter.Budget()
}

// Health reports the instance state. Only the credential resolution source
// is exposed, never its value.
func (c *Connector) Health(_ context.Context) core.HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := core.HealthStatus{Timestamp: time.Now()}
	switch {
	case !c.initialized:
		status.Status = "uninitialized"
	case c.closed:
		status.Status = "closed"
	default:
		status.Status = "healthy"
		status.Budget = c.limiter.Budget()
		if status.Budget.Remaining() == 0 {
			status.Status = "degraded"
		}
		if c.credential != nil {
			status.Credential = string(c.credential.Source)
		} else {
			status.Credential = "anonymous"
		}
		if c.store != nil {
			stats := c.store.GetStats()
			status.Details = map[string]interface{}{
				"cache_hits":   stats.Hits,
				"cache_misses": stats.Misses,
			}
		}
	}
	return status
}

// Metrics returns the instance metrics collector.
func (c *Connector) Metrics() *metrics.Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collector
}

// Credential returns the resolved credential, or nil for anonymous access.
func (c *Connector) Credential() *credentials.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// ClearCache removes every entry in this instance's cache partition.
func (c *Connector) ClearCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.Clear()
}

// Close releases the connector's resources. Close is idempotent.
func (c *Connector) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.initialized {
		c.closed = true
		return nil
	}
	c.closed = true
	c.httpClient.Close()
	if err := c.logger.Sync(); err != nil {
		// Sync to stderr commonly fails on some platforms; not actionable.
		_ = err
	}
	return nil
}

// buildLogger constructs the instance logger from config.
func buildLogger(cfg *config.RuntimeConfig) (*zap.Logger, error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "building logger")
	}
	return log, nil
}
