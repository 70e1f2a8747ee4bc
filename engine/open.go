package engine

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vantor/conveyor"
	"github.com/vantor/conveyor/inline"
	redisstore "github.com/vantor/conveyor/store/redis"
)

// Open builds a Service from Config. With a reachable broker it returns
// the Redis-backed Engine; with no broker configured, or a broker that
// stays unreachable through the connect budget, it degrades to the
// synchronous inline executor so submissions keep working.
//
// The returned Service must be started with Start and released with
// Close.
func Open(ctx context.Context, cfg conveyor.Config, opts ...Option) (conveyor.Service, error) {
	o := buildOptions(opts)
	cfg = cfg.WithDefaults()

	if cfg.BrokerAddr == "" {
		o.logger.Warn("no broker configured, falling back to inline execution")
		return newInline(cfg, o), nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.BrokerAddr,
		Password: cfg.BrokerPassword,
		DB:       cfg.BrokerDB,
	})

	if err := pingWithRetry(ctx, client, cfg, o.logger); err != nil {
		_ = client.Close()
		o.logger.Warn("broker unreachable, falling back to inline execution",
			slog.String("broker_addr", cfg.BrokerAddr),
			slog.Int("attempts", cfg.ConnectAttempts),
			slog.String("error", err.Error()),
		)
		return newInline(cfg, o), nil
	}

	st := redisstore.New(client, redisstore.WithLogger(o.logger))
	if err := st.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	o.logger.Info("connected to broker", slog.String("broker_addr", cfg.BrokerAddr))
	return New(st, cfg, opts...)
}

// pingWithRetry probes the broker up to ConnectAttempts times with
// ConnectBackoff between attempts.
func pingWithRetry(ctx context.Context, client *goredis.Client, cfg conveyor.Config, logger *slog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return nil
		}

		logger.Warn("broker connection attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.ConnectAttempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt < cfg.ConnectAttempts {
			select {
			case <-time.After(cfg.ConnectBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// newInline maps the engine's construction options onto the inline
// fallback so hooks and middleware survive the degradation.
func newInline(cfg conveyor.Config, o *options) *inline.Executor {
	inlineOpts := []inline.Option{inline.WithLogger(o.logger)}
	for _, h := range o.hooks {
		inlineOpts = append(inlineOpts, inline.WithHook(h))
	}
	for _, m := range o.mws {
		inlineOpts = append(inlineOpts, inline.WithMiddleware(m))
	}
	return inline.New(cfg, inlineOpts...)
}
