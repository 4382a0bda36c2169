package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions carries the connection settings the config layer resolved.
// Zero timeouts and pool size fall back to conservative defaults.
type ClientOptions struct {
	Addr      string
	Username  string
	Password  string
	OpTimeout time.Duration // read/write timeout per command
	PoolSize  int
}

// Connect opens a client and verifies the connection with a bounded ping,
// so a misconfigured address fails at startup instead of on the first lock.
func Connect(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	opTimeout := opts.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
		PoolSize:     poolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
