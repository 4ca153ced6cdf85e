package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"tick-oracle/internal/domain"
)

const DefaultSnapshotTTL = 15 * time.Minute

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Snapshot is the latest published state of one instrument.
type Snapshot struct {
	Symbol    string            `json:"symbol"`
	Forecasts []domain.Forecast `json:"forecasts"`
	Signal    *domain.Signal    `json:"signal,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SnapshotStore keeps forecast snapshots under forecast:<SYMBOL>.
type SnapshotStore struct {
	redis  RedisClient
	tracer trace.Tracer
	ttl    time.Duration
}

func NewSnapshotStore(client RedisClient, tracer trace.Tracer, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{redis: client, tracer: tracer, ttl: ttl}
}

func snapshotKey(symbol string) string {
	return "forecast:" + symbol
}

func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "snapshot-cache.save")
	defer span.End()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, snapshotKey(snap.Symbol), data, s.ttl).Err()
}

// Load returns nil without error on a cache miss.
func (s *SnapshotStore) Load(ctx context.Context, symbol string) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "snapshot-cache.load")
	defer span.End()

	data, err := s.redis.Get(ctx, snapshotKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
