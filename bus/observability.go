package bus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/agentbus/bus"

// Observability 总线的 OTel 追踪与指标。
//
// 与 internal/metrics 的 Prometheus 收集器并存:Prometheus 面向
// /metrics 拉取,这里的 span 和 OTLP 指标随 telemetry 配置推送。
// 全局 provider 未初始化时一切调用落在 noop 实现上。
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	publishTotal    metric.Int64Counter
	deliveryTotal   metric.Int64Counter
	publishDuration metric.Float64Histogram
	publishActive   metric.Int64UpDownCounter
}

// NewObservability 从全局 provider 创建总线观测器。
func NewObservability() (*Observability, error) {
	o := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error

	o.publishTotal, err = o.meter.Int64Counter("bus.publish.total",
		metric.WithDescription("Total number of envelope publishes"),
		metric.WithUnit("{publish}"))
	if err != nil {
		return nil, err
	}

	o.deliveryTotal, err = o.meter.Int64Counter("bus.delivery.total",
		metric.WithDescription("Total number of handler deliveries"),
		metric.WithUnit("{delivery}"))
	if err != nil {
		return nil, err
	}

	o.publishDuration, err = o.meter.Float64Histogram("bus.publish.duration",
		metric.WithDescription("Publish duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	o.publishActive, err = o.meter.Int64UpDownCounter("bus.publish.active",
		metric.WithDescription("Number of in-flight publishes"),
		metric.WithUnit("{publish}"))
	if err != nil {
		return nil, err
	}

	return o, nil
}

// startPublish 开启发布 span 并登记在途发布。
// 返回的结束函数读取最终的发布结果补全 span 与计数;
// 接收者为 nil 时返回原样 ctx 和空操作。
func (o *Observability) startPublish(ctx context.Context, envType, envID, from, to string) (context.Context, func(*PublishResult)) {
	if o == nil {
		return ctx, func(*PublishResult) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "bus.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("envelope.id", envID),
			attribute.String("envelope.type", envType),
			attribute.String("envelope.from", from),
			attribute.String("envelope.to", to),
		))

	o.publishActive.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", envType)))

	return ctx, func(result *PublishResult) {
		defer span.End()

		o.publishActive.Add(ctx, -1,
			metric.WithAttributes(attribute.String("type", envType)))

		outcome := "delivered"
		switch {
		case result.Queued:
			outcome = "queued"
		case !result.Success:
			outcome = "failed"
		}

		attrs := metric.WithAttributes(
			attribute.String("type", envType),
			attribute.String("outcome", outcome))
		o.publishTotal.Add(ctx, 1, attrs)
		o.publishDuration.Record(ctx, time.Since(start).Seconds(), attrs)

		span.SetAttributes(
			attribute.String("bus.outcome", outcome),
			attribute.Int("bus.delivered", len(result.DeliveredTo)),
			attribute.Int("bus.errors", len(result.Errors)),
		)
	}
}

// recordDelivery 记录一次处理器投递尝试的结果。
func (o *Observability) recordDelivery(ctx context.Context, envType, outcome string) {
	if o == nil {
		return
	}
	o.deliveryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", envType),
		attribute.String("outcome", outcome)))
}
