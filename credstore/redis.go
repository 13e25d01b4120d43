package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyRedisURL    = errors.New("credstore: empty redis URL")
	ErrRedisURL         = errors.New("credstore: failed to parse redis URL")
	ErrRedisUnavailable = errors.New("credstore: redis unavailable")
)

const defaultRedisKeyPrefix = "authgate:credentials"

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the key prefix. Default: "authgate:credentials".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithProfile selects the profile. Default: DefaultProfile.
func WithProfile(profile string) RedisOption {
	return func(r *Redis) {
		if profile != "" {
			r.profile = profile
		}
	}
}

// Redis is a Store holding each profile's pair in one hash, so Clear removes
// both credentials with a single DEL.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	profile string
}

// NewRedis wraps an existing client. The client lifecycle stays with the caller.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  defaultRedisKeyPrefix,
		profile: DefaultProfile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenRedis parses a redis:// or rediss:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyRedisURL
	}
	if !strings.HasPrefix(url, "redis://") && !strings.HasPrefix(url, "rediss://") {
		return nil, ErrRedisURL
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrRedisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisUnavailable, err)
	}
	return client, nil
}

func (r *Redis) key() string {
	if r.prefix == "" {
		return r.profile
	}
	return r.prefix + ":" + r.profile
}

func (r *Redis) Get(ctx context.Context, kind Kind) (string, error) {
	if err := kind.validate(); err != nil {
		return "", err
	}

	v, err := r.client.HGet(ctx, r.key(), string(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, kind Kind, value string) error {
	if err := kind.validate(); err != nil {
		return err
	}

	if err := r.client.HSet(ctx, r.key(), string(kind), value).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key()).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

var _ Store = (*Redis)(nil)
