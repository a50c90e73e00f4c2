package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	splitsRecorded       metric.Int64Counter
	splitAmount          metric.Int64Counter
	obligationsCreated   metric.Int64Counter
	obligationTransition metric.Int64Counter
	settlements          metric.Int64Counter
	settlementAmount     metric.Int64Counter
	remindersIssued      metric.Int64Counter
	eventsDispatched     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "instructorledger"
	}
	meter := provider.Meter(name)

	counters := map[string]*metric.Int64Counter{}
	m := &Metrics{}
	counters["ledger_revenue_splits_total"] = &m.splitsRecorded
	counters["ledger_revenue_split_gross_minor_total"] = &m.splitAmount
	counters["ledger_obligations_created_total"] = &m.obligationsCreated
	counters["ledger_obligation_transitions_total"] = &m.obligationTransition
	counters["ledger_settlements_total"] = &m.settlements
	counters["ledger_settlement_amount_minor_total"] = &m.settlementAmount
	counters["ledger_reminders_issued_total"] = &m.remindersIssued
	counters["ledger_events_dispatched_total"] = &m.eventsDispatched

	for instrument, target := range counters {
		counter, err := meter.Int64Counter(instrument)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", instrument, err)
		}
		*target = counter
	}
	return m, nil
}

// RecordRevenueSplit counts a newly recorded split and its gross amount.
func (m *Metrics) RecordRevenueSplit(ctx context.Context, modelKind string, gross int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("model_kind", strings.TrimSpace(modelKind)))...)
	m.splitsRecorded.Add(ctx, 1, attrs)
	if gross > 0 {
		m.splitAmount.Add(ctx, gross, attrs)
	}
}

func (m *Metrics) RecordObligationCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.obligationsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
	)...))
}

func (m *Metrics) RecordObligationTransition(ctx context.Context, kind, to string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.obligationTransition.Add(ctx, int64(count), metric.WithAttributes(FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("status", strings.TrimSpace(to)),
	)...))
}

func (m *Metrics) RecordSettlement(ctx context.Context, method string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("payment_method", strings.TrimSpace(method)))...)
	m.settlements.Add(ctx, 1, attrs)
	if amount > 0 {
		m.settlementAmount.Add(ctx, amount, attrs)
	}
}

func (m *Metrics) RecordReminderIssued(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.remindersIssued.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("level", strings.TrimSpace(level)),
	)...))
}

func (m *Metrics) RecordEventDispatched(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// instructor and lesson ids are deliberately absent: unbounded cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"model_kind":     {},
	"kind":           {},
	"status":         {},
	"payment_method": {},
	"level":          {},
	"event_type":     {},
	"outcome":        {},
	"route":          {},
	"method":         {},
	"status_code":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
