package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
)

func TestTrackRecordsTenantOperations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	m.Track(ctx, tenantdb.Observation{TenantID: "clinic-a", Table: "platform_invoices", Operation: tenantdb.OpSelect, Duration: 3 * time.Millisecond, Rows: 2})
	m.Track(ctx, tenantdb.Observation{TenantID: "clinic-a", Table: "platform_invoices", Operation: tenantdb.OpSelect, Duration: time.Millisecond, Err: errors.New("boom")})

	if got := testutil.ToFloat64(m.tenantOps.WithLabelValues("platform_invoices", "select", "ok")); got != 1 {
		t.Fatalf("expected 1 ok select, got %v", got)
	}
	if got := testutil.ToFloat64(m.tenantOps.WithLabelValues("platform_invoices", "select", "error")); got != 1 {
		t.Fatalf("expected 1 failed select, got %v", got)
	}
	if got := testutil.ToFloat64(m.tenantOpRows.WithLabelValues("platform_invoices", "select")); got != 2 {
		t.Fatalf("expected 2 rows, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Track(context.Background(), tenantdb.Observation{Table: "x"})
	m.RecordPaymentAttempt("succeeded", "PYG")
	m.RecordWebhookEvent("stripe", "payment_intent.succeeded", "processed", time.Millisecond)
	m.ObserveAPIRequest("/api/billing/pay", "200", "", time.Millisecond)
}

func TestPaymentAttemptCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordPaymentAttempt("requires_action", "PYG")
	m.RecordPaymentAttempt("requires_action", "PYG")

	if got := testutil.ToFloat64(m.paymentAttempts.WithLabelValues("requires_action", "PYG")); got != 2 {
		t.Fatalf("expected 2 attempts, got %v", got)
	}
}
