// Package fred implements a source connector for the FRED economic data
// API (Federal Reserve Bank of St. Louis). It demonstrates how a concrete
// source layers typed accessors over the shared fetch pipeline.
package fred

import (
	"context"
	"regexp"
	"time"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/connector/base"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/request"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/table"
)

const (
	defaultBaseURL = "https://api.stlouisfed.org"

	// ObservationsEndpoint serves the data points of one series.
	ObservationsEndpoint = "/fred/series/observations"
	// SeriesEndpoint serves series metadata.
	SeriesEndpoint = "/fred/series"
)

// seriesIDPattern matches FRED series identifiers such as GDP or CPIAUCSL.
var seriesIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Source is the FRED connector. Observations are daily revised upstream,
// so cached responses default to a 12-hour TTL.
type Source struct {
	*base.Connector
}

// Option customizes a Source before initialization.
type Option func(*base.Settings)

// WithAPIKey supplies the FRED API key directly instead of resolving it
// from the environment or a key file.
func WithAPIKey(key string) Option {
	return func(s *base.Settings) { s.APIKey = key }
}

// WithBaseURL overrides the upstream root, for tests against local servers.
func WithBaseURL(url string) Option {
	return func(s *base.Settings) { s.BaseURL = url }
}

// WithSettings applies an arbitrary settings mutation.
func WithSettings(fn func(*base.Settings)) Option {
	return func(s *base.Settings) { fn(s) }
}

// New creates an uninitialized FRED source.
func New(opts ...Option) *Source {
	settings := base.Settings{
		Name:           "fred",
		Version:        "1.0.0",
		BaseURL:        defaultBaseURL,
		CredentialName: "fred",
		AuthQuery:      "api_key",
		TTL:            12 * time.Hour,
		Schemas:        endpointSchemas(),
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &Source{Connector: base.New(settings)}
}

// endpointSchemas declares the parameter constraints per endpoint.
func endpointSchemas() map[string]*request.Schema {
	return map[string]*request.Schema{
		ObservationsEndpoint: request.NewSchema(
			&request.Constraint{Name: "series_id", Required: true, Pattern: seriesIDPattern, MaxLength: 64},
			&request.Constraint{Name: "observation_start", Type: request.TypeDate},
			&request.Constraint{Name: "observation_end", Type: request.TypeDate},
			&request.Constraint{Name: "units", Enum: []string{"lin", "chg", "ch1", "pch", "pc1", "pca", "cch", "cca", "log"}},
			&request.Constraint{Name: "frequency", Enum: []string{"d", "w", "bw", "m", "q", "sa", "a"}},
			&request.Constraint{Name: "file_type", Enum: []string{"json"}},
			&request.Constraint{Name: "limit", Type: request.TypeInt},
		),
		SeriesEndpoint: request.NewSchema(
			&request.Constraint{Name: "series_id", Required: true, Pattern: seriesIDPattern, MaxLength: 64},
			&request.Constraint{Name: "file_type", Enum: []string{"json"}},
		),
	}
}

// Observations fetches the data points of one series. Empty start or end
// leaves the upstream default range in place.
func (s *Source) Observations(ctx context.Context, seriesID, start, end string) (*table.Table, error) {
	params := map[string]string{
		"series_id": seriesID,
		"file_type": "json",
	}
	if start != "" {
		params["observation_start"] = start
	}
	if end != "" {
		params["observation_end"] = end
	}
	return s.Fetch(ctx, ObservationsEndpoint, params)
}

// SeriesInfo fetches the metadata record of one series.
func (s *Source) SeriesInfo(ctx context.Context, seriesID string) (*table.Table, error) {
	return s.Fetch(ctx, SeriesEndpoint, map[string]string{
		"series_id": seriesID,
		"file_type": "json",
	})
}
