package instrumentation

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine instruments. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	Authentications  metric.Int64Counter
	Lockouts         metric.Int64Counter
	MFAOperations    metric.Int64Counter
	Registrations    metric.Int64Counter
	CodesIssued      metric.Int64Counter
	CodeExchanges    metric.Int64Counter
	TokenRefreshes   metric.Int64Counter
	TokenRevocations metric.Int64Counter
	SSOLogins        metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.HTTPRequestsTotal, "identity.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.Authentications, "identity.authentications.total", "Password authentications by outcome", "{attempt}"},
		{&m.Lockouts, "identity.lockouts.total", "Credentials locked by the failure policy", "{lockout}"},
		{&m.MFAOperations, "identity.mfa.operations.total", "MFA operations by operation and outcome", "{operation}"},
		{&m.Registrations, "identity.registrations.total", "Person registrations by stage", "{registration}"},
		{&m.CodesIssued, "identity.codes.issued.total", "Authorization codes issued", "{code}"},
		{&m.CodeExchanges, "identity.codes.exchanged.total", "Authorization code exchanges by outcome", "{exchange}"},
		{&m.TokenRefreshes, "identity.tokens.refreshed.total", "Refresh token rotations by outcome", "{refresh}"},
		{&m.TokenRevocations, "identity.tokens.revoked.total", "Token revocations", "{revocation}"},
		{&m.SSOLogins, "identity.sso.logins.total", "SSO logins by provider and outcome", "{login}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"identity.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	return m, nil
}

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "failure")
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", strconv.Itoa(status)),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordAuthentication counts a password authentication. result is a short reason such as
// "success", "mfa_required", "password_failed" or "locked".
func (m *Metrics) RecordAuthentication(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Authentications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) RecordLockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.Lockouts.Add(ctx, 1)
}

func (m *Metrics) RecordMFA(ctx context.Context, operation, authenticatorType string, ok bool) {
	if m == nil {
		return
	}
	m.MFAOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("type", authenticatorType),
		outcome(ok),
	))
}

func (m *Metrics) RecordRegistration(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.Registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string, ok bool) {
	if m == nil {
		return
	}
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
		outcome(ok),
	))
}

func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, ok bool) {
	if m == nil {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID), outcome(ok)))
}

func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokenRevocations.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

func (m *Metrics) RecordSSO(ctx context.Context, provider string, ok bool) {
	if m == nil {
		return
	}
	m.SSOLogins.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider), outcome(ok)))
}
