// Package cache resolves channels to hubs on the hot path. Two tiers: a
// process-local TTL map and a shared Redis tier, with the entity store as the
// single source of truth underneath. Reads fail open past a broken Redis;
// writes go to the shared tier before the local one so a process never holds
// a value newer than what its peers can see.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/store"
)

const (
	connectionKeyPrefix = "hub:connection:"
	hubKeyPrefix        = "hub:data:"
)

func connectionKey(channelID string) string { return connectionKeyPrefix + channelID }
func hubKey(hubID string) string            { return hubKeyPrefix + hubID }

// HubData is the cached projection of a hub and its full connection roster.
type HubData struct {
	Hub         store.Hub
	Connections []store.Connection
}

// Route is the result of resolving a channel: the hub it belongs to, its own
// connection, and the connected siblings a broadcast fans out to.
type Route struct {
	Hub        store.Hub
	Connection store.Connection
	Siblings   []store.Connection
}

// Resolver is the two-tier cache over connection and hub lookups. It also
// implements store.Invalidator so the store decorator can drop entries on
// mutation.
type Resolver struct {
	rdb   *redis.Client
	st    store.Stores
	ttl   time.Duration
	conns *Local[*store.Connection]
	hubs  *Local[*HubData]
}

func NewResolver(rdb *redis.Client, st store.Stores, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		rdb:   rdb,
		st:    st,
		ttl:   ttl,
		conns: NewLocal[*store.Connection](ttl),
		hubs:  NewLocal[*HubData](ttl),
	}
}

func (r *Resolver) Close() {
	r.conns.Close()
	r.hubs.Close()
}

// ResolveChannel returns the routing context for a channel, or
// store.ErrNotFound when the channel is not bound to any hub. Siblings
// exclude the channel itself and anything flipped to disconnected.
func (r *Resolver) ResolveChannel(ctx context.Context, channelID string) (*Route, error) {
	c, err := r.Connection(ctx, channelID)
	if err != nil {
		return nil, err
	}
	hd, err := r.HubData(ctx, c.HubID)
	if errors.Is(err, store.ErrNotFound) {
		// Stale binding to a deleted hub; drop it so the next message
		// resolves clean.
		r.InvalidateConnection(ctx, channelID)
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	route := &Route{Hub: hd.Hub, Connection: *c}
	for _, sib := range hd.Connections {
		if sib.ChannelID == channelID || !sib.Connected {
			continue
		}
		route.Siblings = append(route.Siblings, sib)
	}
	return route, nil
}

// Connection returns the channel's connection through the cache tiers. An
// unbound channel is remembered locally (negative entry) so repeated chatter
// in ordinary channels does not hit the store every time.
func (r *Resolver) Connection(ctx context.Context, channelID string) (*store.Connection, error) {
	if c, ok := r.conns.Get(channelID); ok {
		if c == nil {
			return nil, store.ErrNotFound
		}
		cc := *c
		return &cc, nil
	}

	key := connectionKey(channelID)
	if data, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var c store.Connection
		if err := json.Unmarshal(data, &c); err == nil {
			r.conns.Set(channelID, &c)
			cc := c
			return &cc, nil
		}
		slog.Warn("dropping undecodable cached connection", "channel_id", channelID)
		r.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("connection cache read failed, falling through", "channel_id", channelID, "error", err)
	}

	c, err := r.st.Connections.Find(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		r.conns.Set(channelID, nil)
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.writeThrough(ctx, key, c)
	r.conns.Set(channelID, c)
	cc := *c
	return &cc, nil
}

// HubData returns the hub and its full roster through the cache tiers.
func (r *Resolver) HubData(ctx context.Context, hubID string) (*HubData, error) {
	if hd, ok := r.hubs.Get(hubID); ok {
		if hd == nil {
			return nil, store.ErrNotFound
		}
		return hd, nil
	}

	key := hubKey(hubID)
	if data, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var hd HubData
		if err := json.Unmarshal(data, &hd); err == nil {
			r.hubs.Set(hubID, &hd)
			return &hd, nil
		}
		slog.Warn("dropping undecodable cached hub", "hub_id", hubID)
		r.rdb.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("hub cache read failed, falling through", "hub_id", hubID, "error", err)
	}

	hub, err := r.st.Hubs.Find(ctx, hubID)
	if errors.Is(err, store.ErrNotFound) {
		r.hubs.Set(hubID, nil)
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conns, err := r.st.Connections.FindByHub(ctx, hubID)
	if err != nil {
		return nil, err
	}
	hd := &HubData{Hub: *hub, Connections: conns}
	r.writeThrough(ctx, key, hd)
	r.hubs.Set(hubID, hd)
	return hd, nil
}

// writeThrough populates the shared tier. Local population must come after,
// so a failed shared write can only make this process miss, never go ahead
// of its peers.
func (r *Resolver) writeThrough(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
		slog.Warn("cache write-through failed", "key", key, "error", err)
	}
}

// InvalidateConnection drops both tiers for a channel.
func (r *Resolver) InvalidateConnection(ctx context.Context, channelID string) {
	r.conns.Delete(channelID)
	if err := r.rdb.Del(ctx, connectionKey(channelID)).Err(); err != nil {
		slog.Warn("connection cache invalidation failed", "channel_id", channelID, "error", err)
	}
}

// InvalidateHub drops both tiers for a hub.
func (r *Resolver) InvalidateHub(ctx context.Context, hubID string) {
	r.hubs.Delete(hubID)
	if err := r.rdb.Del(ctx, hubKey(hubID)).Err(); err != nil {
		slog.Warn("hub cache invalidation failed", "hub_id", hubID, "error", err)
	}
}

// OnConnectionModified invalidates a connection and the hub it belongs to.
// Callers that only know the channel may pass hubID == ""; the authoritative
// store is consulted to discover it.
func (r *Resolver) OnConnectionModified(ctx context.Context, channelID, hubID string) {
	if hubID == "" {
		if c, err := r.st.Connections.Find(ctx, channelID); err == nil {
			hubID = c.HubID
		}
	}
	r.InvalidateConnection(ctx, channelID)
	if hubID != "" {
		r.InvalidateHub(ctx, hubID)
	}
}
