// Package respcache caches rendered recommendation responses. Entries are
// keyed by the serving model, so a new artifact never serves stale output.
package respcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/model"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "crop-advisor:recommend:"

// Cache stores opaque response bodies.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Close() error
}

// Key identifies one request against one model artifact.
func Key(modelPath string, locationID int, season string, year, topK int) string {
	return fmt.Sprintf("%s%s:%d:%s:%d:%d", KeyPrefix, modelPath, locationID, model.NormalizeSeason(season), year, topK)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte) error         { return nil }
func (Noop) Close() error                                      { return nil }

// client is the slice of *redis.Client the cache needs.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis stores entries in Redis with a fixed TTL.
type Redis struct {
	client client
	ttl    time.Duration
}

// NewRedis connects to url (redis://[:password@]host:port/db) and pings it.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "respcache: parse redis url")
	}
	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		c.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "respcache: ping %s", opts.Addr)
	}
	zap.L().Info("respcache: redis connected", zap.String("addr", opts.Addr), zap.Duration("ttl", ttl))
	return newRedis(c, ttl), nil
}

func newRedis(c client, ttl time.Duration) *Redis {
	return &Redis{client: c, ttl: ttl}
}

// Get implements Cache. A miss is (nil, false, nil).
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "respcache: get")
	}
	return val, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, val []byte) error {
	return eris.Wrap(r.client.Set(ctx, key, val, r.ttl).Err(), "respcache: set")
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.client.Close()
}
