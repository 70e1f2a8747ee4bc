package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantor/conveyor/hook"
	"github.com/vantor/conveyor/middleware"
)

// options holds construction-time configuration shared by New and Open.
type options struct {
	logger         *slog.Logger
	hooks          []hook.Hook
	mws            []middleware.Middleware
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures the engine (or the inline fallback Open degrades to).
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithMiddleware appends a middleware to the execution chain, after the
// built-in recover/tracing/metrics/logging/timeout stack.
func WithMiddleware(m middleware.Middleware) Option {
	return func(o *options) { o.mws = append(o.mws, m) }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
