package messaging

import (
	"time"

	"github.com/hilthontt/socialbook/internal/infrastructure/metrics"
	"github.com/hilthontt/socialbook/internal/infrastructure/tracing"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hilthontt/socialbook/messaging"

const defaultRetryDelay = 5 * time.Second

type options struct {
	dial    Dialer
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customizes a Publisher or a Consumer.
type Option func(*options)

// WithDialer replaces the AMQP dialer, mostly for tests.
func WithDialer(dial Dialer) Option {
	return func(o *options) { o.dial = dial }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{
		dial: DialAMQP,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = tracing.GetTracer(tracerName)
	}
	return o
}
