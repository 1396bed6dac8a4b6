package objstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string // host:port
	Password  string
	DB        int
	KeyPrefix string // namespace prepended to every key, e.g. "crowdwatch:"
	MaxIdle   int
	MaxActive int
}

// Redis stores objects as plain string values.
type Redis struct {
	pool   *redis.Pool
	addr   string
	prefix string
}

// NewRedis creates a pooled Redis store. Connections are dialed lazily.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 4
	}

	dialOpts := []redis.DialOption{
		redis.DialDatabase(cfg.DB),
		redis.DialConnectTimeout(5 * time.Second),
	}
	if cfg.Password != "" {
		dialOpts = append(dialOpts, redis.DialPassword(cfg.Password))
	}

	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: 5 * time.Minute,
		Wait:        cfg.MaxActive > 0,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Addr, dialOpts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	return &Redis{pool: pool, addr: cfg.Addr, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

func (r *Redis) Put(ctx context.Context, key string, data []byte, _ string) error {
	_, err := r.do(ctx, "SET", r.prefix+key, data)
	return err
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := redis.Bytes(r.do(ctx, "GET", r.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	return redis.Bool(r.do(ctx, "EXISTS", r.prefix+key))
}

// List walks the keyspace with SCAN so large namespaces don't block the server.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	var (
		keys   []string
		cursor = "0"
	)
	for {
		values, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor,
			"MATCH", escapeGlob(r.prefix+prefix)+"*", "COUNT", 200))
		if err != nil {
			return nil, err
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("unexpected SCAN reply length %d", len(values))
		}
		cursor, err = redis.String(values[0], nil)
		if err != nil {
			return nil, err
		}
		batch, err := redis.Strings(values[1], nil)
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		if cursor == "0" {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) URI(key string) string {
	return fmt.Sprintf("redis://%s/%s%s", r.addr, r.prefix, key)
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Ping(ctx context.Context) error {
	_, err := r.do(ctx, "PING")
	return err
}

func (r *Redis) Close() error {
	return r.pool.Close()
}

// escapeGlob escapes SCAN MATCH metacharacters in a literal prefix.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
