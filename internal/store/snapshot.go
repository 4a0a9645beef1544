// Package store relays view snapshots into Redis for renderers that do not
// hold a WebSocket (kiosk screens, the alerting side). Nothing is read back.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"airq-dashboard/internal/view"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient 创建 Redis 客户端
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Ping 测试 Redis 连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Options 快照写入参数
type Options struct {
	KeyPrefix string        // 快照 key 为 <KeyPrefix>:snapshot
	Stream    string        // 变更流
	StreamLen int64         // 变更流最大长度，<=0 不截断
	TTL       time.Duration // 快照 key 过期时间，0 表示不过期
}

// SnapshotStore 把最新视图快照写入 Redis
type SnapshotStore struct {
	client *redis.Client
	opts   Options
	logger *zap.Logger
}

// NewSnapshotStore 创建快照写入器
func NewSnapshotStore(client *redis.Client, opts Options, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{client: client, opts: opts, logger: logger}
}

// SnapshotKey 最新快照所在的 key
func (s *SnapshotStore) SnapshotKey() string {
	return s.opts.KeyPrefix + ":snapshot"
}

// Publish writes snap under SnapshotKey and appends a change record to the
// stream, both in one pipeline.
func (s *SnapshotStore) Publish(ctx context.Context, snap view.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.SnapshotKey(), data, s.opts.TTL)
		if s.opts.Stream != "" {
			args := &redis.XAddArgs{
				Stream: s.opts.Stream,
				Values: changeRecord(snap),
			}
			if s.opts.StreamLen > 0 {
				args.MaxLen = s.opts.StreamLen
			}
			pipe.XAdd(ctx, args)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}

	s.logger.Debug("Snapshot written to redis",
		zap.String("key", s.SnapshotKey()),
		zap.Uint64("version", snap.Version),
		zap.Int("size", len(data)),
	)
	return nil
}

// changeRecord 变更流条目：只放摘要，完整内容在快照 key 里
func changeRecord(snap view.Snapshot) map[string]interface{} {
	selected := ""
	if snap.Detail.Location != nil {
		selected = snap.Detail.Location.Key()
	}
	return map[string]interface{}{
		"version":       strconv.FormatUint(snap.Version, 10),
		"updated_at":    snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"locations":     strconv.Itoa(snap.Layers.Len()),
		"selected":      selected,
		"notice":        snap.Notice,
		"error":         snap.Error,
		"device":        snap.Device.DeviceID,
		"device_status": snap.Device.Status,
	}
}
