package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoCheckpoint indicates no write was recorded for the source id
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrInvalidEntry indicates the stored entry is corrupted
	ErrInvalidEntry = errors.New("invalid checkpoint entry")
)

// DefaultTTL is how long a checkpoint is kept.
const DefaultTTL = 30 * 24 * time.Hour

// Manager stores checkpoints in Redis.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new checkpoint manager. A non-positive ttl uses DefaultTTL.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get returns the checkpoint of a source id or ErrNoCheckpoint.
func (m *Manager) Get(ctx context.Context, sourceID string) (*Entry, error) {
	data, err := m.redis.Get(ctx, Key{SourceID: sourceID}.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoCheckpoint
		}
		CheckpointErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CheckpointErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Lookup reports whether the source id was committed with the same tag set
// and returns the recorded item id if so.
func (m *Manager) Lookup(ctx context.Context, sourceID string, tags []string) (int64, bool, error) {
	entry, err := m.Get(ctx, sourceID)
	if errors.Is(err, ErrNoCheckpoint) {
		CheckpointMisses.Inc()
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !entry.Matches(tags) {
		CheckpointMisses.Inc()
		return 0, false, nil
	}

	CheckpointHits.Inc()
	return entry.ItemID, true, nil
}

// Record stores the checkpoint of a committed write.
func (m *Manager) Record(ctx context.Context, sourceID string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("checkpoint entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CheckpointErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal checkpoint entry: %w", err)
	}

	if err := m.redis.Set(ctx, Key{SourceID: sourceID}.String(), data, m.ttl).Err(); err != nil {
		CheckpointErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the checkpoint of a source id.
func (m *Manager) Delete(ctx context.Context, sourceID string) error {
	if err := m.redis.Del(ctx, Key{SourceID: sourceID}.String()).Err(); err != nil {
		CheckpointErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
