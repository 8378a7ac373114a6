package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	inst, err := NewWithReader(reader)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	m := inst.Metrics()
	m.RecordAuthentication(ctx, "success")
	m.RecordAuthentication(ctx, "password_failed")
	m.RecordLockout(ctx)
	m.RecordMFA(ctx, "verify", "otp", true)
	m.RecordCodeIssued(ctx, "C1")
	m.RecordCodeExchange(ctx, "C1", "S256", true)
	m.RecordCodeExchange(ctx, "C1", "S256", false)
	m.RecordTokenRefresh(ctx, "C1", true)
	m.RecordTokenRevocation(ctx, "C1")
	m.RecordSSO(ctx, "github", false)
	m.RecordHTTPRequest(ctx, "POST", "/oauth2/token", 200, 12.5)

	got := collect(t, reader)
	require.Equal(t, int64(2), got["identity.authentications.total"])
	require.Equal(t, int64(1), got["identity.lockouts.total"])
	require.Equal(t, int64(2), got["identity.codes.exchanged.total"])
	require.Equal(t, int64(1), got["identity.sso.logins.total"])
	require.Equal(t, int64(1), got["identity.http.requests.total"])
}

func TestNilMetricsAreNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.RecordAuthentication(context.Background(), "success")
	m.RecordHTTPRequest(context.Background(), "GET", "/", 200, 1)
}

func TestPrometheusHandler(t *testing.T) {
	t.Parallel()

	inst, err := New(Config{ServiceName: "identity", Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	inst.Metrics().RecordCodeIssued(context.Background(), "C1")

	rec := httptest.NewRecorder()
	inst.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "identity_codes_issued")
}

func TestDisabledHandler(t *testing.T) {
	t.Parallel()

	inst, err := New(Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	inst.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
