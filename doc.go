// Package krlconnectors is the shared runtime for KR-Labs data-source
// connectors. It provides the pieces every connector needs to fetch remote
// data reliably: credential resolution, a file-backed TTL response cache,
// fixed-window rate limiting with retry, request validation and
// fingerprinting, and normalization of JSON/XML/CSV responses into one
// uniform tabular shape.
//
// Concrete sources embed pkg/connector/base.Connector and declare their
// endpoints; see pkg/connector/sources/fred for a complete example.
package krlconnectors
