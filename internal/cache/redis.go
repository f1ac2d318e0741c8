package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/config"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"

	"github.com/redis/go-redis/v9"
)

// AnomalyIndex keeps recently relayed anomalies in Redis, one sorted list
// per topic, each entry expiring after the retention period.
type AnomalyIndex struct {
	client    *redis.Client
	retention time.Duration
}

// NewAnomalyIndex connects to Redis and verifies the connection
func NewAnomalyIndex(ctx context.Context, cfg config.RedisConfig) (*AnomalyIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	log.Printf("Connected to Redis at %s (retention %s)", cfg.Addr, retention)
	return &AnomalyIndex{client: client, retention: retention}, nil
}

func entryKey(topic string, at time.Time) string {
	return fmt.Sprintf("anomaly:%s:%d", topic, at.UnixNano())
}

func listKey(topic string) string {
	return fmt.Sprintf("anomaly_list:%s", topic)
}

// Record stores rec and adds it to its topic list
func (a *AnomalyIndex) Record(ctx context.Context, rec models.AnomalyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly: %w", err)
	}

	key := entryKey(rec.Topic, rec.ReceivedAt)
	list := listKey(rec.Topic)

	pipe := a.client.TxPipeline()
	pipe.Set(ctx, key, data, a.retention)
	pipe.ZAdd(ctx, list, redis.Z{Score: float64(rec.ReceivedAt.UnixNano()), Member: key})
	pipe.ZRemRangeByScore(ctx, list, "-inf", fmt.Sprintf("(%d", rec.ReceivedAt.Add(-a.retention).UnixNano()))
	pipe.Expire(ctx, list, a.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store anomaly: %w", err)
	}
	return nil
}

// Recent returns up to limit anomalies for topic, newest first
func (a *AnomalyIndex) Recent(ctx context.Context, topic string, limit int) ([]models.AnomalyRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	keys, err := a.client.ZRevRange(ctx, listKey(topic), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get anomalies: %w", err)
	}
	if len(keys) == 0 {
		return []models.AnomalyRecord{}, nil
	}

	values, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load anomalies: %w", err)
	}

	records := make([]models.AnomalyRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired between ZREVRANGE and MGET
			continue
		}
		var rec models.AnomalyRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			log.Printf("Skipping corrupt anomaly entry %s: %v", keys[i], err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping checks that Redis is reachable
func (a *AnomalyIndex) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (a *AnomalyIndex) Close() error {
	return a.client.Close()
}
