package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"kittycore/pkg/domain"
)

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type logLine struct {
	level string
	msg   string
}

type captureLogger struct {
	lines []logLine
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.lines = append(l.lines, logLine{"debug", msg}) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.lines = append(l.lines, logLine{"info", msg}) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.lines = append(l.lines, logLine{"warn", msg}) }
func (l *captureLogger) Error(msg string, _ ...any) { l.lines = append(l.lines, logLine{"error", msg}) }

// steppingClock advances by a fixed step on every read.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	audit := NewAuditLog(nil)
	logger := &captureLogger{}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppingClock{now: start, step: 5 * time.Millisecond}

	h := newHarness(t, nil,
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithAuditRecorder(audit),
		WithLogger(logger),
		WithClock(clock),
	)
	h.fund(t, "alice", 10)
	h.create(t, "alice")
	if err := h.svc.Transfer(ctx, "bob", 0, "bob"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("want ErrNotOwner, got %v", err)
	}

	if len(metrics.calls) != 2 {
		t.Fatalf("want 2 metric observations, got %+v", metrics.calls)
	}
	if metrics.calls[0].op != OpCreate || !metrics.calls[0].success || metrics.calls[0].duration != 5*time.Millisecond {
		t.Fatalf("unexpected create observation %+v", metrics.calls[0])
	}
	if metrics.calls[1].op != OpTransfer || metrics.calls[1].success {
		t.Fatalf("unexpected transfer observation %+v", metrics.calls[1])
	}

	if len(tracer.ended) != 2 || tracer.ended[0].err != nil || tracer.ended[1].err == nil {
		t.Fatalf("unexpected spans %+v", tracer.ended)
	}

	entries := audit.Entries()
	if len(entries) != 2 {
		t.Fatalf("want 2 audit entries, got %d", len(entries))
	}
	created := entries[0]
	if created.Operation != OpCreate || created.Status != AuditStatusSuccess || created.EntityID != "0" || created.Caller != "alice" {
		t.Fatalf("unexpected audit entry %+v", created)
	}
	if !created.Timestamp.Equal(start) || created.ID == "" {
		t.Fatalf("audit entry should carry id and start time: %+v", created)
	}
	if entries[1].Status != AuditStatusError || entries[1].Error == "" || entries[1].EntityID != "" {
		t.Fatalf("unexpected failure entry %+v", entries[1])
	}
	if entries[0].ID == entries[1].ID {
		t.Fatalf("audit ids must be unique")
	}

	if len(logger.lines) != 2 || logger.lines[0].level != "info" || logger.lines[1].level != "warn" {
		t.Fatalf("unexpected log lines %+v", logger.lines)
	}
}

func TestInfrastructureFailuresLogAtErrorLevel(t *testing.T) {
	logger := &captureLogger{}
	h := newHarness(t, nil, WithLogger(logger))
	h.fund(t, "alice", 10)
	svc := NewService(persistFailingStore{Store: h.store}, h.ledger, h.random, WithLogger(logger))
	if _, err := svc.Create(context.Background(), "alice"); err == nil {
		t.Fatalf("expected persist error")
	}
	if len(logger.lines) != 1 || logger.lines[0].level != "error" {
		t.Fatalf("unexpected log lines %+v", logger.lines)
	}
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	h := newHarness(t, nil, WithLogger(nil), WithClock(nil), WithMetricsRecorder(nil), WithTracer(nil), WithAuditRecorder(nil), WithEventSink(nil))
	h.fund(t, "alice", 10)
	h.create(t, "alice")
	if len(h.events.Events()) != 1 {
		t.Fatalf("nil sink option must not replace the configured sink")
	}
}

func TestExpvarMetricsRecorderExports(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "kittycore_service_metrics_") {
		t.Fatalf("unexpected generated name %s", rec.Name())
	}
	rec.Observe(context.Background(), OpBuy, true, 2*time.Millisecond)
	rec.Observe(context.Background(), OpBuy, false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	snap := rec.Snapshot()
	if snap.DurationsMS[OpBuy] != 5 {
		t.Fatalf("want 5ms total, got %v", snap.DurationsMS[OpBuy])
	}
	if snap.Results[OpBuy]["success"] != 1 || snap.Results[OpBuy]["error"] != 1 {
		t.Fatalf("unexpected results %+v", snap.Results)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation names are ignored")
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("recorder not published")
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.Results[OpBuy]["success"] != 1 {
		t.Fatalf("unexpected published snapshot %+v", decoded)
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), OpCreate)
	span.End(nil)
	_, span = tracer.Start(context.Background(), OpBuy)
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 json lines, got %q", buf.String())
	}
	var first JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil || first.Operation != OpCreate {
		t.Fatalf("decode first line: %v %+v", err, first)
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), OpTransfer)
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("nil writer tracer should still retain entries")
	}
}

func TestAuditLogStreamsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewAuditLog(&buf)
	log.Record(context.Background(), AuditEntry{ID: "x", Operation: OpBuy, Status: AuditStatusSuccess})
	var decoded AuditEntry
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded.Operation != OpBuy {
		t.Fatalf("decode audit line: %v %+v", err, decoded)
	}
	if n := len(log.Entries()); n != 0 {
		t.Fatalf("streaming audit log should not retain entries, got %d", n)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	h := newHarness(t, nil, WithMetricsRecorder(MultiMetricsRecorder{rec, nil}))
	h.fund(t, "alice", 10)
	h.create(t, "alice")
	_, _ = h.svc.Create(context.Background(), "alice")

	if got := testutil.ToFloat64(rec.operations.WithLabelValues(OpCreate, "success")); got != 1 {
		t.Fatalf("want 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues(OpCreate, "error")); got != 1 {
		t.Fatalf("want 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.latency); n != 1 {
		t.Fatalf("want one latency series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	h := newHarness(t, nil, WithTracer(NewOTelTracer(provider)))
	h.fund(t, "alice", 10)
	h.create(t, "alice")
	_ = h.svc.ListForSale(context.Background(), "bob", 0)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "kittycore.create" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected create span %s %+v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "kittycore.list_for_sale" || spans[1].Status().Code != codes.Error {
		t.Fatalf("unexpected list span %s %+v", spans[1].Name(), spans[1].Status())
	}
	if NewOTelTracer(nil) == nil {
		t.Fatalf("global provider tracer should be constructed")
	}
}

func TestNoopCollaborators(t *testing.T) {
	logger := noopLogger{}
	logger.Debug("d", "k", 1)
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
	noopMetrics{}.Observe(context.Background(), "op", true, time.Second)
	noopAudit{}.Record(context.Background(), AuditEntry{})
	ctx, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
	if ctx == nil {
		t.Fatalf("noop tracer must return the context")
	}
	if ClockFunc(func() time.Time { return time.Unix(0, 0) }).Now().Unix() != 0 {
		t.Fatalf("ClockFunc should delegate")
	}
}
