package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/store"
)

const (
	recordPrefix  = "broadcast:"
	reversePrefix = "broadcast:rev:"

	// DefaultRetention bounds how long edit/delete correlation works for a
	// relayed message.
	DefaultRetention = 24 * time.Hour
)

// Record is the identity map for one fanned-out message: the source message
// and the mirrored message id created at every sibling.
type Record struct {
	SourceMessageID string            `json:"source_message_id"`
	SourceChannelID string            `json:"source_channel_id"`
	HubID           string            `json:"hub_id"`
	AuthorUserID    string            `json:"author_user_id"`
	AttachmentURL   string            `json:"attachment_url,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Broadcasts      map[string]string `json:"broadcasts"` // sibling channelID -> mirrored messageID
}

// MessageIn returns the record's message id in the given channel, treating
// the source channel as a member.
func (r *Record) MessageIn(channelID string) (string, bool) {
	if channelID == r.SourceChannelID {
		return r.SourceMessageID, true
	}
	id, ok := r.Broadcasts[channelID]
	return id, ok
}

// RecordStore persists Records in Redis under the retention TTL, with a
// reverse index from every mirrored message id back to the source.
type RecordStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRecordStore(rdb *redis.Client, retention time.Duration) *RecordStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RecordStore{rdb: rdb, ttl: retention}
}

// Insert writes the record and its reverse index entries in one round trip.
func (s *RecordStore) Insert(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode broadcast record: %w", err)
	}
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, recordPrefix+rec.SourceMessageID, raw, s.ttl)
		for _, msgID := range rec.Broadcasts {
			p.Set(ctx, reversePrefix+msgID, rec.SourceMessageID, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist broadcast record: %w", err)
	}
	return nil
}

// FindBySource resolves a record by the source message id.
func (s *RecordStore) FindBySource(ctx context.Context, sourceMessageID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, recordPrefix+sourceMessageID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read broadcast record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode broadcast record: %w", err)
	}
	return &rec, nil
}

// FindByAny resolves a record by the source message id or any mirrored
// message id.
func (s *RecordStore) FindByAny(ctx context.Context, messageID string) (*Record, error) {
	rec, err := s.FindBySource(ctx, messageID)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return rec, err
	}
	src, err := s.rdb.Get(ctx, reversePrefix+messageID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read broadcast reverse index: %w", err)
	}
	return s.FindBySource(ctx, src)
}
