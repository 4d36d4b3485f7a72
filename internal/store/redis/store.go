package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/wakegate/internal/wake"
)

const (
	// DefaultJournalSize is how many events are kept per service
	DefaultJournalSize = 50
	// DefaultJournalTTL expires the journal of a service nobody has woken for a while
	DefaultJournalTTL = 30 * 24 * time.Hour
)

// WakeStats are the lifetime counters of one service.
type WakeStats struct {
	ServiceID string    `json:"service_id"`
	Sent      int64     `json:"sent"`
	Failed    int64     `json:"failed"`
	LastAt    time.Time `json:"last_at,omitzero"`
}

// Store is the Redis-backed wake journal. It implements wake.Journal.
type Store struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
}

var _ wake.Journal = (*Store)(nil)

// NewStore creates a journal keeping the last size events per service
func NewStore(client *redis.Client, size int) *Store {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Store{
		client: client,
		size:   int64(size),
		ttl:    DefaultJournalTTL,
	}
}

// RecordWake appends an event, trims the list and bumps the counters in one transaction
func (s *Store) RecordWake(ctx context.Context, event wake.WakeEvent) error {
	if event.ServiceID == "" {
		return errors.New("wake event without service id")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal wake event: %w", err)
	}

	field := fieldSent
	if event.Error != "" {
		field = fieldFailed
	}

	events := EventsKey(event.ServiceID)
	stats := StatsKey(event.ServiceID)

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, events, data)
		p.LTrim(ctx, events, 0, s.size-1)
		p.Expire(ctx, events, s.ttl)
		p.HIncrBy(ctx, stats, field, 1)
		p.HSet(ctx, stats, fieldLastAt, event.At.UTC().Format(time.RFC3339Nano))
		p.Expire(ctx, stats, s.ttl)
		p.SAdd(ctx, AllServicesKey(), event.ServiceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record wake event: %w", err)
	}
	return nil
}

// RecentWakes returns up to limit events for a service, newest first.
// A limit <= 0 returns the whole journal.
func (s *Store) RecentWakes(ctx context.Context, id string, limit int) ([]wake.WakeEvent, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, EventsKey(id), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read wake events: %w", err)
	}

	events := make([]wake.WakeEvent, 0, len(raw))
	for _, item := range raw {
		var e wake.WakeEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip entries we can't decode
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Stats returns the counters of one service. A service never woken has zero stats.
func (s *Store) Stats(ctx context.Context, id string) (WakeStats, error) {
	h, err := s.client.HGetAll(ctx, StatsKey(id)).Result()
	if err != nil {
		return WakeStats{}, fmt.Errorf("failed to read wake stats: %w", err)
	}

	st := WakeStats{ServiceID: id}
	if v, ok := h[fieldSent]; ok {
		st.Sent, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := h[fieldFailed]; ok {
		st.Failed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := h[fieldLastAt]; ok {
		st.LastAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return st, nil
}

// JournaledServices lists the IDs that still have recorded events, sorted.
// IDs whose events expired are dropped from the index on the way.
func (s *Store) JournaledServices(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get journaled services: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}

	exists := make([]*redis.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = p.Exists(ctx, EventsKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check journaled services: %w", err)
	}

	live := make([]string, 0, len(ids))
	var expired []interface{}
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, AllServicesKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune journaled services: %w", err)
		}
	}

	sort.Strings(live)
	return live, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
