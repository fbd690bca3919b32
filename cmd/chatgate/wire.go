package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/meter"
	"github.com/ineyio/chatgate/provider/anthropic"
	"github.com/ineyio/chatgate/provider/gemini"
	"github.com/ineyio/chatgate/provider/openaicompat"
	"github.com/ineyio/chatgate/store/memory"
	storepg "github.com/ineyio/chatgate/store/postgres"
	storeredis "github.com/ineyio/chatgate/store/redis"
	storesqlite "github.com/ineyio/chatgate/store/sqlite"
)

// schemaStore is implemented by stores that own tables.
type schemaStore interface {
	EnsureSchema(ctx context.Context) error
}

func newLogger(cfg chatgate.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
}

// openStore connects the configured backend. The returned close func
// releases its connections.
func openStore(ctx context.Context, cfg chatgate.StoreConfig) (chatgate.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		var opts []storepg.Option
		if cfg.Prefix != "" {
			opts = append(opts, storepg.WithTablePrefix(cfg.Prefix))
		}
		return storepg.New(pool, opts...), pool.Close, nil

	case "redis":
		redisOpts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		client := goredis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		var opts []storeredis.Option
		if cfg.Prefix != "" {
			opts = append(opts, storeredis.WithKeyPrefix(cfg.Prefix))
		}
		return storeredis.New(client, opts...), func() { client.Close() }, nil

	case "sqlite":
		db, err := storesqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		var opts []storesqlite.Option
		if cfg.Prefix != "" {
			opts = append(opts, storesqlite.WithTablePrefix(cfg.Prefix))
		}
		return storesqlite.New(db, opts...), func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ensureSchema creates tables for stores that need them and reports whether it did.
func ensureSchema(ctx context.Context, store chatgate.Store) (bool, error) {
	s, ok := store.(schemaStore)
	if !ok {
		return false, nil
	}
	return true, s.EnsureSchema(ctx)
}

func newProvider(cfg chatgate.ProviderConfig) (chatgate.Provider, error) {
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Kind {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.Auth, opts...), nil
	case "openaicompat":
		return openaicompat.New(cfg.BaseURL, cfg.Auth, openaicompat.WithHTTPClient(client)), nil
	case "gemini":
		opts := []gemini.Option{gemini.WithHTTPClient(client)}
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(cfg.Auth, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func newMeter(logger *slog.Logger, mp metric.MeterProvider) (chatgate.Meter, error) {
	om, err := meter.NewOtelMeter(mp.Meter("github.com/ineyio/chatgate"))
	if err != nil {
		return nil, err
	}
	return meter.Multi{meter.NewLogMeter(logger), om}, nil
}
