package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments a client with tracing, metrics and debug logging of
// every command.
func MonitorRedis(r redis.UniversalClient, name string) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{client: name})
	return nil
}

type redisLog struct {
	client string
}

func (l redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.WarnContext(ctx, "redis: dial failed", "client", l.client, "addr", addr, "error", err)
			return nil, err
		}
		slog.DebugContext(ctx, "redis: dialed", "client", l.client, "network", network, "addr", addr)
		return conn, nil
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := hook(ctx, cmd)
		slog.DebugContext(ctx, "redis: processed", "client", l.client, "cmd", cmd.Name(), "error", redisErr(err))
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := hook(ctx, cmds)
		slog.DebugContext(ctx, "redis: processed pipeline", "client", l.client, "cmds", len(cmds), "error", redisErr(err))
		return err
	}
}

// redisErr hides redis.Nil, which is a cache miss rather than a failure.
func redisErr(err error) error {
	if err == redis.Nil {
		return nil
	}
	return err
}
