package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ipreputation/internal/metrics"
	"ipreputation/internal/models"

	"github.com/redis/go-redis/v9"
)

const scoresKey = "scores"

// RedisRepository is the score store: a Redis hash of JSON-encoded
// ReputationScore records keyed by IP. It is the only writer of score
// records; recomputation overwrites, scores are never versioned.
type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func (r *RedisRepository) trackDuration(op string, start time.Time) {
	metrics.MetricRedisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func NewRedisRepository(host string, port int, password string, db int) *RedisRepository {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
	return &RedisRepository{
		client: rdb,
		ctx:    context.Background(),
	}
}

func (r *RedisRepository) GetClient() *redis.Client {
	return r.client
}

// PutScore stores the score for its IP, overwriting any prior record.
func (r *RedisRepository) PutScore(score models.ReputationScore) error {
	defer r.trackDuration("PutScore", time.Now())
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("%w: marshal score: %v", models.ErrPersistence, err)
	}
	if err := r.client.HSet(r.ctx, scoresKey, score.IP, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// GetScore returns the stored score for ip, or ErrNotFound.
func (r *RedisRepository) GetScore(ip string) (*models.ReputationScore, error) {
	defer r.trackDuration("GetScore", time.Now())
	val, err := r.client.HGet(r.ctx, scoresKey, ip).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: score for %s", models.ErrNotFound, ip)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	var s models.ReputationScore
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("%w: decode score: %v", models.ErrPersistence, err)
	}
	return &s, nil
}

// DeleteScore removes the stored score for ip; absent is a no-op.
func (r *RedisRepository) DeleteScore(ip string) error {
	defer r.trackDuration("DeleteScore", time.Now())
	return r.client.HDel(r.ctx, scoresKey, ip).Err()
}

// AllScores returns every stored score keyed by IP. Records that fail
// to decode are skipped.
func (r *RedisRepository) AllScores() (map[string]models.ReputationScore, error) {
	defer r.trackDuration("AllScores", time.Now())
	raw, err := r.client.HGetAll(r.ctx, scoresKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	scores := make(map[string]models.ReputationScore, len(raw))
	for ip, val := range raw {
		var s models.ReputationScore
		if err := json.Unmarshal([]byte(val), &s); err == nil {
			scores[ip] = s
		}
	}
	return scores, nil
}

// HighRisk returns the IPs whose stored score is below threshold or
// whose blacklisted flag is set.
func (r *RedisRepository) HighRisk(threshold int) ([]string, error) {
	scores, err := r.AllScores()
	if err != nil {
		return nil, err
	}
	var ips []string
	for ip, s := range scores {
		if s.TotalScore < threshold || s.Blacklisted {
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

// Stats aggregates the currently stored scores. Average stays zero when
// the store is empty; callers check Count before reading it.
func (r *RedisRepository) Stats() (models.ScoreStats, error) {
	scores, err := r.AllScores()
	if err != nil {
		return models.ScoreStats{}, err
	}

	stats := models.ScoreStats{Count: len(scores)}
	if stats.Count == 0 {
		return stats, nil
	}

	sum := 0
	first := true
	for _, s := range scores {
		sum += s.TotalScore
		if s.Blacklisted {
			stats.BlacklistedCount++
		}
		if first {
			stats.Min, stats.Max = s.TotalScore, s.TotalScore
			first = false
			continue
		}
		if s.TotalScore < stats.Min {
			stats.Min = s.TotalScore
		}
		if s.TotalScore > stats.Max {
			stats.Max = s.TotalScore
		}
	}
	stats.Average = float64(sum) / float64(stats.Count)
	return stats, nil
}
