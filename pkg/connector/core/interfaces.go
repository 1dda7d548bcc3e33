// Package core defines the interfaces every data-source connector
// implements and the runtime context each instance owns. Two instances
// share nothing: each carries its own credential, cache partition, rate
// budget, and metrics registry.
package core

import (
	"context"
	"time"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/clients"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/config"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/table"
)

// Connector is the base interface for all data-source connectors.
type Connector interface {
	// Metadata
	Name() string
	Version() string

	// Lifecycle
	Initialize(ctx context.Context, cfg *config.RuntimeConfig) error
	Close(ctx context.Context) error

	// Health and monitoring
	Health(ctx context.Context) HealthStatus
	Budget() clients.RateBudget
}

// Source is a connector that serves tabular fetches. Every fetch runs the
// shared pipeline: validation, canonicalization, cache, rate limit, retry,
// normalization.
type Source interface {
	Connector

	// Endpoints lists the endpoint paths this source declares schemas for.
	Endpoints() []string

	// Fetch retrieves one endpoint as a normalized table. A successful
	// response with no matching data is an empty table, not an error.
	Fetch(ctx context.Context, endpoint string, params map[string]string) (*table.Table, error)
}

// HealthStatus reports the observable state of one connector instance.
type HealthStatus struct {
	Status     string                 `json:"status"` // "healthy", "degraded", "uninitialized"
	Timestamp  time.Time              `json:"timestamp"`
	Credential string                 `json:"credential"` // resolution source, never the value
	Budget     clients.RateBudget     `json:"budget"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Metadata describes a registered connector.
type Metadata struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Endpoints   []string `json:"endpoints"`
}
