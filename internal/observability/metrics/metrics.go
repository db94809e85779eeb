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

// Metrics exposes credit ledger instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reservations     metric.Int64Counter
	reservedCredits  metric.Int64Counter
	settlements      metric.Int64Counter
	refundedCredits  metric.Int64Counter
	paymentEvents    metric.Int64Counter
	purchasedCredits metric.Int64Counter
	provisioned      metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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
		name = "testematch"
	}
	meter := provider.Meter(name)

	reservations, err := meter.Int64Counter("testematch_credit_reservations_total")
	if err != nil {
		return nil, err
	}
	reservedCredits, err := meter.Int64Counter("testematch_credits_reserved_total")
	if err != nil {
		return nil, err
	}
	settlements, err := meter.Int64Counter("testematch_settlements_total")
	if err != nil {
		return nil, err
	}
	refundedCredits, err := meter.Int64Counter("testematch_credits_refunded_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("testematch_payment_events_total")
	if err != nil {
		return nil, err
	}
	purchasedCredits, err := meter.Int64Counter("testematch_credits_purchased_total")
	if err != nil {
		return nil, err
	}
	provisioned, err := meter.Int64Counter("testematch_accounts_provisioned_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("testematch_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("testematch_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("testematch_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reservations:     reservations,
		reservedCredits:  reservedCredits,
		settlements:      settlements,
		refundedCredits:  refundedCredits,
		paymentEvents:    paymentEvents,
		purchasedCredits: purchasedCredits,
		provisioned:      provisioned,
		ledgerEntries:    ledgerEntries,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordReservation counts reserve attempts. outcome is "reserved" or
// "insufficient".
func (m *Metrics) RecordReservation(ctx context.Context, tier, outcome string, credits int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("tier", strings.TrimSpace(tier)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reservations.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == "reserved" && credits > 0 {
		m.reservedCredits.Add(ctx, credits, metric.WithAttributes(attrs...))
	}
}

// RecordSettlement counts settle calls by outcome and whether they applied.
func (m *Metrics) RecordSettlement(ctx context.Context, outcome string, duplicate bool, refunded int64) {
	if m == nil {
		return
	}
	result := "applied"
	if duplicate {
		result = "duplicate"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("result", result),
	)
	m.settlements.Add(ctx, 1, metric.WithAttributes(attrs...))
	if refunded > 0 {
		m.refundedCredits.Add(ctx, refunded)
	}
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string, credited int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
	if credited > 0 {
		m.purchasedCredits.Add(ctx, credited, metric.WithAttributes(attrs...))
	}
}

// RecordProvisioned counts placeholder accounts created from payments.
func (m *Metrics) RecordProvisioned(ctx context.Context) {
	if m == nil {
		return
	}
	m.provisioned.Add(ctx, 1)
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

// Account ids, CPFs and job ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":        {},
	"outcome":     {},
	"result":      {},
	"kind":        {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
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
