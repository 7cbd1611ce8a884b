package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings. An empty URL disables the cache.
type Config struct {
	URL          string        `default:""    usage:"Redis URL, e.g. redis://localhost:6379/0"`
	TTL          time.Duration `default:"60s" usage:"Availability quote TTL"`
	PoolSize     int           `default:"10"  usage:"Connection pool size"`
	DialTimeout  time.Duration `default:"5s"  usage:"Dial timeout"`
	ReadTimeout  time.Duration `default:"1s"  usage:"Read timeout"`
	WriteTimeout time.Duration `default:"1s"  usage:"Write timeout"`
}

// Connect opens a Redis client and pings it. It returns nil when cfg.URL is
// empty.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return client, nil
}
