package fred

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/config"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/connector/base"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/credentials"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/testutil"
)

const observationsBody = `{
	"count": 2,
	"observations": [
		{"date": "2020-01-01", "value": "1.0", "realtime_start": "2020-01-01"},
		{"date": "2020-02-01", "value": "2.0", "realtime_start": "2020-01-01"}
	]
}`

func newTestSource(t *testing.T, transport *testutil.StaticRoundTripper) *Source {
	t.Helper()

	s := New(
		WithAPIKey("test-key"),
		WithSettings(func(settings *base.Settings) {
			settings.Transport = transport
			settings.ResolverOptions = []credentials.Option{
				credentials.WithLookupEnv(func(string) (string, bool) { return "", false }),
			}
		}),
	)

	cfg := config.NewRuntimeConfig("fred")
	cfg.Cache.Dir = t.TempDir()
	cfg.Logging.Level = "error"
	require.NoError(t, s.Initialize(context.Background(), cfg))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestObservations(t *testing.T) {
	transport := testutil.JSONRoundTripper(observationsBody)
	s := newTestSource(t, transport)

	tbl, err := s.Observations(context.Background(), "GDP", "2020-01-01", "2020-12-31")
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.NumRows())
	assert.Contains(t, tbl.ColumnNames(), "date")
	assert.Contains(t, tbl.ColumnNames(), "value")

	require.Equal(t, 1, transport.Calls)
	got := transport.Requests[0].URL
	query := got.Query()
	assert.Equal(t, "GDP", query.Get("series_id"))
	assert.Equal(t, "2020-01-01", query.Get("observation_start"))
	assert.Equal(t, "test-key", query.Get("api_key"), "credential travels as a query parameter")
	assert.Equal(t, ObservationsEndpoint, got.Path)
}

func TestObservationsCached(t *testing.T) {
	transport := testutil.JSONRoundTripper(observationsBody)
	s := newTestSource(t, transport)

	_, err := s.Observations(context.Background(), "GDP", "", "")
	require.NoError(t, err)
	_, err = s.Observations(context.Background(), "GDP", "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, transport.Calls, "repeat lookups are cache hits")
}

func TestSeriesIDValidation(t *testing.T) {
	transport := testutil.JSONRoundTripper(observationsBody)
	s := newTestSource(t, transport)

	for _, bad := range []string{"", "GDP/../../etc", "GDP observations", "GDP\x00"} {
		_, err := s.Observations(context.Background(), bad, "", "")
		require.Error(t, err, "series id %q", bad)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	}
	assert.Equal(t, 0, transport.Calls)
}

func TestBadDateRejectedBeforeNetwork(t *testing.T) {
	transport := testutil.JSONRoundTripper(observationsBody)
	s := newTestSource(t, transport)

	_, err := s.Observations(context.Background(), "GDP", "01/02/2020", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, 0, transport.Calls)
}

func TestSeriesInfo(t *testing.T) {
	transport := testutil.JSONRoundTripper(`{"seriess":[{"id":"GDP","title":"Gross Domestic Product"}]}`)
	s := newTestSource(t, transport)

	tbl, err := s.SeriesInfo(context.Background(), "GDP")
	require.NoError(t, err)
	require.Equal(t, 1, tbl.NumRows())

	title, err := tbl.Value(0, "title")
	require.NoError(t, err)
	assert.Equal(t, "Gross Domestic Product", title)
}

func TestEndpointsDeclared(t *testing.T) {
	s := New()
	assert.ElementsMatch(t, []string{ObservationsEndpoint, SeriesEndpoint}, s.Endpoints())
}

func TestKeyedBudgetApplied(t *testing.T) {
	s := newTestSource(t, testutil.JSONRoundTripper(observationsBody))
	assert.Equal(t, config.DefaultKeyedBudget, s.Budget().MaxRequests)
}
