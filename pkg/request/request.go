// Package request defines the canonical request descriptor shared by the
// cache, rate limiter, and executor. A descriptor pins down a namespace,
// an endpoint, and a canonicalized parameter set, and derives the stable
// fingerprint used as the cache key.
package request

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Descriptor identifies one upstream request after canonicalization.
// The fingerprint is order-independent over parameters: permuting the
// input map never changes it.
type Descriptor struct {
	Namespace   string
	Endpoint    string
	Params      map[string]string
	Fingerprint string
}

// NewDescriptor canonicalizes params and computes the fingerprint.
// Validation is the executor's responsibility; NewDescriptor assumes the
// parameters were already accepted.
func NewDescriptor(namespace, endpoint string, params map[string]string) *Descriptor {
	canonical := make(map[string]string, len(params))
	for k, v := range params {
		canonical[k] = v
	}

	return &Descriptor{
		Namespace:   namespace,
		Endpoint:    endpoint,
		Params:      canonical,
		Fingerprint: Fingerprint(namespace, endpoint, canonical),
	}
}

// Fingerprint computes a deterministic hex digest over the namespace,
// endpoint, and parameter set. The computation is pure (no I/O) and
// independent of parameter order. Field and pair boundaries are delimited
// with NUL bytes, which validation excludes from endpoint paths, parameter
// names, and parameter values, so distinct requests cannot collide by
// concatenation.
func Fingerprint(namespace, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	_, _ = h.WriteString(namespace)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(endpoint)
	_, _ = h.Write([]byte{0})
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(params[k])
		_, _ = h.Write([]byte{0})
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
