package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Redis is a Store backed by a Redis server.
type Redis struct {
	pool   *redis.Pool
	prefix string
}

// NewRedis creates a pooled Redis store. Connections are dialed lazily.
func NewRedis(addr, password string, db int, prefix string) *Redis {
	return NewRedisWithPool(&redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialPassword(password),
				redis.DialDatabase(db),
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
				redis.DialWriteTimeout(5*time.Second),
			)
		},
	}, prefix)
}

// NewRedisWithPool creates a store on an existing pool.
func NewRedisWithPool(pool *redis.Pool, prefix string) *Redis {
	return &Redis{pool: pool, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	v, err := redis.Bytes(conn.Do("GET", r.prefix+key))
	switch {
	case errors.Is(err, redis.ErrNil):
		return nil, ErrMiss
	case err != nil:
		return nil, fmt.Errorf("redis GET: %w", err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if _, err := conn.Do("SET", r.prefix+key, value, "PX", ms); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", r.prefix+key); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.pool.Close()
}
