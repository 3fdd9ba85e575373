package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory is the shared view of call state in Redis: the channel to call
// mapping, the call records themselves, and the per-call message rings. The
// matchmaker and sessions mutate through it; moderation reads through it.
type Directory struct {
	rdb *redis.Client
}

func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

// ActiveFor resolves the call a channel is currently in. ErrNotInCall when
// the channel has no mapping or the mapped call is no longer ACTIVE.
func (d *Directory) ActiveFor(ctx context.Context, channelID string) (*Active, error) {
	callID, err := d.activeCallID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if callID == "" {
		return nil, ErrNotInCall
	}
	ac, err := d.Find(ctx, callID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Stale mapping left by a crashed process. Drop it so the
			// channel can start a fresh call.
			if derr := d.rdb.Del(ctx, activePrefix+channelID).Err(); derr != nil {
				slog.Warn("failed to drop stale call mapping", "channel_id", channelID, "error", derr)
			}
			return nil, ErrNotInCall
		}
		return nil, err
	}
	if ac.Status != StatusActive {
		return nil, ErrNotInCall
	}
	return ac, nil
}

// Find returns a call record by id, active or retained. ErrNotFound once the
// retention window has passed.
func (d *Directory) Find(ctx context.Context, callID string) (*Active, error) {
	raw, err := d.rdb.Get(ctx, dataPrefix+callID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read call record: %w", err)
	}
	var ac Active
	if err := json.Unmarshal([]byte(raw), &ac); err != nil {
		return nil, fmt.Errorf("decode call record: %w", err)
	}
	return &ac, nil
}

// Messages returns the call's recent-message ring, oldest first.
func (d *Directory) Messages(ctx context.Context, callID string) ([]RingEntry, error) {
	raws, err := d.rdb.LRange(ctx, ringPrefix+callID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read call messages: %w", err)
	}
	out := make([]RingEntry, 0, len(raws))
	for _, raw := range raws {
		var e RingEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			slog.Warn("skipping undecodable ring entry", "call_id", callID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (d *Directory) activeCallID(ctx context.Context, channelID string) (string, error) {
	callID, err := d.rdb.Get(ctx, activePrefix+channelID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read call mapping: %w", err)
	}
	return callID, nil
}

// save writes the call record. A zero ttl keeps the key's current expiry.
func (d *Directory) save(ctx context.Context, ac *Active, ttl time.Duration) error {
	raw, err := json.Marshal(ac)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}
	if ttl == 0 {
		ttl = redis.KeepTTL
	}
	if err := d.rdb.Set(ctx, dataPrefix+ac.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write call record: %w", err)
	}
	return nil
}

// appendRing adds an entry to the call's recent-message ring, trims it to
// the ring bound, and refreshes the retention window.
func (d *Directory) appendRing(ctx context.Context, callID string, e RingEntry, retention time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ring entry: %w", err)
	}
	key := ringPrefix + callID
	_, err = d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.LTrim(ctx, key, -ringSize, -1)
		pipe.Expire(ctx, key, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append ring entry: %w", err)
	}
	return nil
}
