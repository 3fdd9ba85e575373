package store

import (
	"context"
	"errors"
)

// Invalidator drops cached projections when their backing rows change. The
// cache package implements it; defining it here keeps the dependency pointing
// one way (cache imports store, never the reverse).
type Invalidator interface {
	InvalidateConnection(ctx context.Context, channelID string)
	InvalidateHub(ctx context.Context, hubID string)
}

// WithInvalidation wraps the connection and hub stores so every mutation
// drops the affected cache entries after the row is written. Reads pass
// through untouched.
func WithInvalidation(s Stores, inv Invalidator) Stores {
	s.Connections = &invalidatingConnectionStore{ConnectionStore: s.Connections, inv: inv}
	s.Hubs = &invalidatingHubStore{HubStore: s.Hubs, conns: s.Connections, inv: inv}
	return s
}

type invalidatingConnectionStore struct {
	ConnectionStore
	inv Invalidator
}

func (s *invalidatingConnectionStore) Upsert(ctx context.Context, c Connection) error {
	// Rebinding a channel moves it between hubs; both rosters go stale.
	prev, err := s.ConnectionStore.Find(ctx, c.ChannelID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.ConnectionStore.Upsert(ctx, c); err != nil {
		return err
	}
	s.inv.InvalidateConnection(ctx, c.ChannelID)
	s.inv.InvalidateHub(ctx, c.HubID)
	if prev != nil && prev.HubID != c.HubID {
		s.inv.InvalidateHub(ctx, prev.HubID)
	}
	return nil
}

func (s *invalidatingConnectionStore) SetWebhookURL(ctx context.Context, channelID, url string) error {
	if err := s.ConnectionStore.SetWebhookURL(ctx, channelID, url); err != nil {
		return err
	}
	s.invalidate(ctx, channelID)
	return nil
}

func (s *invalidatingConnectionStore) SetConnected(ctx context.Context, channelID string, connected bool) error {
	if err := s.ConnectionStore.SetConnected(ctx, channelID, connected); err != nil {
		return err
	}
	s.invalidate(ctx, channelID)
	return nil
}

// Touch deliberately skips invalidation: a stale last-active timestamp in a
// cached roster is harmless and the TTL bounds it.

func (s *invalidatingConnectionStore) Delete(ctx context.Context, channelID string) error {
	prev, err := s.ConnectionStore.Find(ctx, channelID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.ConnectionStore.Delete(ctx, channelID); err != nil {
		return err
	}
	s.inv.InvalidateConnection(ctx, channelID)
	if prev != nil {
		s.inv.InvalidateHub(ctx, prev.HubID)
	}
	return nil
}

func (s *invalidatingConnectionStore) DeleteByServer(ctx context.Context, serverID string) (int64, error) {
	prev, err := s.ConnectionStore.FindByServer(ctx, serverID)
	if err != nil {
		return 0, err
	}
	n, err := s.ConnectionStore.DeleteByServer(ctx, serverID)
	if err != nil {
		return n, err
	}
	for _, c := range prev {
		s.inv.InvalidateConnection(ctx, c.ChannelID)
		s.inv.InvalidateHub(ctx, c.HubID)
	}
	return n, nil
}

func (s *invalidatingConnectionStore) invalidate(ctx context.Context, channelID string) {
	s.inv.InvalidateConnection(ctx, channelID)
	if c, err := s.ConnectionStore.Find(ctx, channelID); err == nil {
		s.inv.InvalidateHub(ctx, c.HubID)
	}
}

type invalidatingHubStore struct {
	HubStore
	conns ConnectionStore
	inv   Invalidator
}

func (s *invalidatingHubStore) Update(ctx context.Context, h Hub) error {
	if err := s.HubStore.Update(ctx, h); err != nil {
		return err
	}
	s.inv.InvalidateHub(ctx, h.ID)
	return nil
}

func (s *invalidatingHubStore) Delete(ctx context.Context, id string) error {
	// The roster must be read before the cascade wipes it.
	members, err := s.conns.FindByHub(ctx, id)
	if err != nil {
		return err
	}
	if err := s.HubStore.Delete(ctx, id); err != nil {
		return err
	}
	s.inv.InvalidateHub(ctx, id)
	for _, c := range members {
		s.inv.InvalidateConnection(ctx, c.ChannelID)
	}
	return nil
}
