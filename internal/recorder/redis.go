package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"VolumeSentinel/internal/config"
	"VolumeSentinel/internal/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisIndexKey   = "sentinel:log_records"
	redisRecordsKey = "sentinel:log_record"
)

// RedisRecorder keeps log records in a hash, indexed by a sorted set scored
// by timestamp in milliseconds.
type RedisRecorder struct {
	client *redis.Client
}

// NewRedisRecorder connects to Redis and verifies the connection.
func NewRedisRecorder(cfg config.RedisConfig) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRecorder{client: client}, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (r *RedisRecorder) Append(ctx context.Context, rec model.LogRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisRecordsKey, rec.ID, data)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: score(rec.Timestamp), Member: rec.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return nil
}

func (r *RedisRecorder) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	maxScore := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)
	ids, err := r.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale log records: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, redisRecordsKey, ids...)
		pipe.ZRem(ctx, redisIndexKey, toMembers(ids)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune log records: %w", err)
	}
	return len(ids), nil
}

func (r *RedisRecorder) Recent(ctx context.Context, q Query) ([]model.LogRecord, error) {
	minScore := "-inf"
	if !q.Since.IsZero() {
		minScore = strconv.FormatInt(q.Since.UnixMicro(), 10)
	}
	ids, err := r.client.ZRevRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{Min: minScore, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("list log records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, redisRecordsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load log records: %w", err)
	}

	var out []model.LogRecord
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.LogRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode log record: %w", err)
		}
		if !q.matches(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}

func toMembers(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
