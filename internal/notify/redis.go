package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"epp-monitor/internal/domain/epp"
)

const (
	DefaultRedisChannel = "epp:snapshots"
	latestTTL           = 24 * time.Hour
)

type redisConn interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSink publishes snapshot summaries on a pub/sub channel and keeps the latest one under "<channel>:latest".
type RedisSink struct {
	conn    redisConn
	channel string
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return newRedisSink(client, cfg.Channel), nil
}

func newRedisSink(conn redisConn, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{conn: conn, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) PublishSnapshot(ctx context.Context, snap epp.Snapshot) error {
	payload, err := json.Marshal(newSummary(snap))
	if err != nil {
		return err
	}
	if err := s.conn.Set(ctx, s.channel+":latest", payload, latestTTL).Err(); err != nil {
		return fmt.Errorf("redis set latest: %w", err)
	}
	if err := s.conn.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *RedisSink) PublishAlerts(ctx context.Context, alerts []epp.DetectionEvent) error {
	payload, err := json.Marshal(alerts)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(ctx, s.channel+":alerts", payload).Err(); err != nil {
		return fmt.Errorf("redis publish alerts: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.conn.Close()
}

// Summary is the compact snapshot form pushed to brokers.
type Summary struct {
	ID             string         `json:"id"`
	Sequence       uint64         `json:"sequence"`
	GeneratedAt    time.Time      `json:"generated_at"`
	ReferenceDay   string         `json:"reference_day,omitempty"`
	ProcessedCount int            `json:"processed_count"`
	ViolationCount int            `json:"violation_count"`
	CompliancePct  int            `json:"compliance_pct"`
	TopMissingTags []epp.TagCount `json:"top_missing_tags"`
}

func newSummary(snap epp.Snapshot) Summary {
	return Summary{
		ID:             snap.ID.String(),
		Sequence:       snap.Sequence,
		GeneratedAt:    snap.GeneratedAt,
		ReferenceDay:   snap.Stats.ReferenceDay,
		ProcessedCount: snap.Stats.ProcessedCount,
		ViolationCount: snap.Stats.ViolationCount,
		CompliancePct:  snap.Stats.CompliancePct,
		TopMissingTags: snap.Stats.TopMissingTags,
	}
}
