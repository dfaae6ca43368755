// Package redis keeps the seen-article ledger in Redis so that several
// harvester processes, and successive runs, share it.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "interpelli:seen:"

// Config selects the Redis server and how long marks survive.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Ledger marks articles with expiring keys.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.TTL), nil
}

// New wraps an existing client. A non-positive ttl keeps marks forever.
func New(client *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

func key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Seen reports whether url was marked and has not expired.
func (l *Ledger) Seen(ctx context.Context, url string) (bool, error) {
	n, err := l.client.Exists(ctx, key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("check seen article: %w", err)
	}
	return n == 1, nil
}

// MarkSeen records url, refreshing its expiry when already present.
func (l *Ledger) MarkSeen(ctx context.Context, url string) error {
	var err error
	if l.ttl > 0 {
		err = l.client.SetEx(ctx, key(url), url, l.ttl).Err()
	} else {
		err = l.client.Set(ctx, key(url), url, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("mark article seen: %w", err)
	}
	return nil
}

// Close releases the client.
func (l *Ledger) Close() error {
	if err := l.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
