// Package rules gates hub admission on per-user rules acceptance. The
// authoritative record lives in the relational store; Redis carries two
// short-lived markers so the hot path usually skips the store read and so
// the acceptance prompt is shown at most once per cooldown window.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/store"
)

// Outcome is the gate's verdict for one inbound message.
type Outcome int

const (
	// Admitted lets the message continue down the pipeline.
	Admitted Outcome = iota
	// DeniedShown blocks the message; the caller should present the hub's
	// rules to the user.
	DeniedShown
	// DeniedCooldown blocks the message silently; the user was prompted
	// within the current window and has not answered yet.
	DeniedCooldown
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case DeniedShown:
		return "denied_shown"
	case DeniedCooldown:
		return "denied_cooldown"
	}
	return "unknown"
}

const (
	acceptedPrefix = "rules:accepted:"
	shownPrefix    = "rules:shown:"

	// DefaultCooldown bounds how often the rules prompt may reappear for
	// one (user, hub) pair.
	DefaultCooldown = 5 * time.Minute
)

func acceptedKey(hubID, userID string) string { return acceptedPrefix + hubID + ":" + userID }
func shownKey(hubID, userID string) string    { return shownPrefix + hubID + ":" + userID }

type Gate struct {
	rdb         *redis.Client
	acceptances store.AcceptanceStore
	cooldown    time.Duration
}

func NewGate(rdb *redis.Client, acceptances store.AcceptanceStore, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{rdb: rdb, acceptances: acceptances, cooldown: cooldown}
}

// Check decides whether userID may post into hub. Marker reads treat a
// broken Redis as a miss and fall through to the authoritative store.
func (g *Gate) Check(ctx context.Context, userID string, hub *store.Hub) (Outcome, error) {
	if len(hub.Rules) == 0 {
		return Admitted, nil
	}

	if hit, err := g.markerSet(ctx, acceptedKey(hub.ID, userID)); err == nil && hit {
		return Admitted, nil
	}

	_, err := g.acceptances.Find(ctx, userID, hub.ID)
	switch {
	case err == nil:
		g.setMarker(ctx, acceptedKey(hub.ID, userID))
		return Admitted, nil
	case errors.Is(err, store.ErrNotFound):
		// Not yet accepted; fall through to the prompt decision.
	default:
		return DeniedCooldown, fmt.Errorf("read rules acceptance: %w", err)
	}

	if hit, err := g.markerSet(ctx, shownKey(hub.ID, userID)); err == nil && hit {
		return DeniedCooldown, nil
	}
	g.setMarker(ctx, shownKey(hub.ID, userID))
	return DeniedShown, nil
}

// Accept records the user's acceptance durably, primes the accepted marker,
// and lifts the prompt cooldown so the user's next message goes straight
// through.
func (g *Gate) Accept(ctx context.Context, userID, hubID string) error {
	if err := g.acceptances.Create(ctx, userID, hubID); err != nil {
		return fmt.Errorf("record rules acceptance: %w", err)
	}
	g.setMarker(ctx, acceptedKey(hubID, userID))
	if err := g.rdb.Del(ctx, shownKey(hubID, userID)).Err(); err != nil {
		slog.Warn("failed to clear rules prompt marker", "hub_id", hubID, "user_id", userID, "error", err)
	}
	return nil
}

func (g *Gate) markerSet(ctx context.Context, key string) (bool, error) {
	n, err := g.rdb.Exists(ctx, key).Result()
	if err != nil {
		slog.Warn("rules marker read failed", "key", key, "error", err)
		return false, err
	}
	return n > 0, nil
}

func (g *Gate) setMarker(ctx context.Context, key string) {
	if err := g.rdb.Set(ctx, key, "1", g.cooldown).Err(); err != nil {
		slog.Warn("rules marker write failed", "key", key, "error", err)
	}
}
