package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/bengobox/oauth2-provider/internal/config"
	"github.com/redis/go-redis/v9"
)

// New initialises a Redis client using the provided configuration.
func New(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Redis 7.x rejects the client maint_notifications handshake.
		DisableIdentity: true,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key joins parts under the configured namespace, e.g. "auth:session:abc".
func Key(namespace string, parts ...string) string {
	if namespace == "" {
		return strings.Join(parts, ":")
	}
	return namespace + ":" + strings.Join(parts, ":")
}
