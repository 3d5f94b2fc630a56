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

// Metrics exposes application-level instruments.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	rollsConsumed    metric.Int64Counter
	paymentsRecorded metric.Int64Counter
	marginNotMet     metric.Int64Counter
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
		name = "printora"
	}
	meter := provider.Meter(name)

	ordersCreated, err := meter.Int64Counter("printora_orders_created_total")
	if err != nil {
		return nil, err
	}
	rollsConsumed, err := meter.Int64Counter("printora_rolls_consumed_total")
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("printora_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	marginNotMet, err := meter.Int64Counter("printora_width_margin_not_met_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersCreated:    ordersCreated,
		rollsConsumed:    rollsConsumed,
		paymentsRecorded: paymentsRecorded,
		marginNotMet:     marginNotMet,
	}, nil
}

// RecordOrderCreated increments order creation counts.
func (m *Metrics) RecordOrderCreated(ctx context.Context, materialType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("material_type", strings.TrimSpace(materialType)))
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRollConsumed increments roll consumption counts.
func (m *Metrics) RecordRollConsumed(ctx context.Context, materialType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("material_type", strings.TrimSpace(materialType)))
	m.rollsConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment increments payment counts.
func (m *Metrics) RecordPayment(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMarginNotMet counts width selections that fell back below margin.
func (m *Metrics) RecordMarginNotMet(ctx context.Context, materialType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("material_type", strings.TrimSpace(materialType)))
	m.marginNotMet.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"material_type": {},
	"method":        {},
	"endpoint":      {},
	"status_code":   {},
	"reason":        {},
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
