package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rss-bundles:local:"

// LocalTier is the capacity-bounded client-local tier. Entries are whole JSON
// documents; a sorted set tracks last access and a hash tracks byte sizes.
type LocalTier struct {
	client *redis.Client
	quota  int64
	now    func() time.Time
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return client, nil
}

// NewLocalTier creates the tier with a byte quota shared by all bundles
func NewLocalTier(client *redis.Client, quotaBytes int64) *LocalTier {
	return &LocalTier{client: client, quota: quotaBytes, now: time.Now}
}

func (l *LocalTier) Name() string {
	return "local"
}

func (l *LocalTier) entryKey(bundleID string) string {
	return keyPrefix + "bundle:" + bundleID
}

func (l *LocalTier) accessKey() string {
	return keyPrefix + "access"
}

func (l *LocalTier) sizesKey() string {
	return keyPrefix + "sizes"
}

func (l *LocalTier) Get(ctx context.Context, bundleID string) (*Entry, error) {
	data, err := l.client.Get(ctx, l.entryKey(bundleID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get local entry %s: %w", bundleID, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Invalid data, delete and report a miss
		l.Clear(ctx, bundleID)
		return nil, nil
	}

	if err := l.client.ZAdd(ctx, l.accessKey(), redis.Z{Score: float64(l.now().UnixMilli()), Member: bundleID}).Err(); err != nil {
		slog.Debug("Failed to record local cache access", "bundle", bundleID, "error", err)
	}

	return &entry, nil
}

func (l *LocalTier) Put(ctx context.Context, entry *Entry) error {
	bundleID := entry.Manifest.BundleID

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal local entry %s: %w", bundleID, err)
	}

	used, err := l.usedBytes(ctx, bundleID)
	if err != nil {
		return err
	}
	if l.quota > 0 && used+int64(len(data)) > l.quota {
		return fmt.Errorf("%w: %d of %d bytes used, entry needs %d", ErrQuotaExceeded, used, l.quota, len(data))
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.entryKey(bundleID), data, 0)
		pipe.HSet(ctx, l.sizesKey(), bundleID, len(data))
		pipe.ZAdd(ctx, l.accessKey(), redis.Z{Score: float64(l.now().UnixMilli()), Member: bundleID})
		return nil
	})
	if err != nil {
		if isOutOfMemory(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("failed to set local entry %s: %w", bundleID, err)
	}

	return nil
}

func (l *LocalTier) Clear(ctx context.Context, bundleID string) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, l.entryKey(bundleID))
		pipe.HDel(ctx, l.sizesKey(), bundleID)
		pipe.ZRem(ctx, l.accessKey(), bundleID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete local entry %s: %w", bundleID, err)
	}
	return nil
}

// EvictOldest drops the least recently accessed half of the cached bundles
func (l *LocalTier) EvictOldest(ctx context.Context) (int, error) {
	ids, err := l.client.ZRange(ctx, l.accessKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list local entries: %w", err)
	}

	evict := (len(ids) + 1) / 2
	for _, id := range ids[:evict] {
		if err := l.Clear(ctx, id); err != nil {
			return 0, err
		}
	}

	return evict, nil
}

// UsedBytes returns the bytes currently accounted to the tier
func (l *LocalTier) UsedBytes(ctx context.Context) (int64, error) {
	return l.usedBytes(ctx, "")
}

// usedBytes sums entry sizes, leaving out the entry of except
func (l *LocalTier) usedBytes(ctx context.Context, except string) (int64, error) {
	sizes, err := l.client.HGetAll(ctx, l.sizesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read local sizes: %w", err)
	}

	var total int64
	for id, raw := range sizes {
		if id == except {
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			total += n
		}
	}
	return total, nil
}

// Health reports connectivity and usage of the tier
func (l *LocalTier) Health(ctx context.Context) map[string]any {
	health := map[string]any{
		"status": "healthy",
		"type":   "redis",
		"quota":  l.quota,
	}

	if err := l.client.Ping(ctx).Err(); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
		return health
	}

	if used, err := l.UsedBytes(ctx); err == nil {
		health["used_bytes"] = used
	}

	return health
}

// Redis reports maxmemory rejections as "OOM command not allowed ..."
func isOutOfMemory(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM")
}
