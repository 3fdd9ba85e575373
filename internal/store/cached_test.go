package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// recordingInvalidator captures which cache keys the decorator drops.
type recordingInvalidator struct {
	connections []string
	hubs        []string
}

func (r *recordingInvalidator) InvalidateConnection(_ context.Context, channelID string) {
	r.connections = append(r.connections, channelID)
}

func (r *recordingInvalidator) InvalidateHub(_ context.Context, hubID string) {
	r.hubs = append(r.hubs, hubID)
}

// memConnStore is a minimal in-memory ConnectionStore for decorator tests.
type memConnStore struct {
	byChannel map[string]Connection
}

func newMemConnStore() *memConnStore {
	return &memConnStore{byChannel: map[string]Connection{}}
}

func (m *memConnStore) Find(_ context.Context, channelID string) (*Connection, error) {
	c, ok := m.byChannel[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memConnStore) FindByHub(_ context.Context, hubID string) ([]Connection, error) {
	var out []Connection
	for _, c := range m.byChannel {
		if c.HubID == hubID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *memConnStore) FindByServer(_ context.Context, serverID string) ([]Connection, error) {
	var out []Connection
	for _, c := range m.byChannel {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *memConnStore) Upsert(_ context.Context, c Connection) error {
	m.byChannel[c.ChannelID] = c
	return nil
}

func (m *memConnStore) SetWebhookURL(_ context.Context, channelID, url string) error {
	c, ok := m.byChannel[channelID]
	if !ok {
		return ErrNotFound
	}
	c.WebhookURL = url
	m.byChannel[channelID] = c
	return nil
}

func (m *memConnStore) SetConnected(_ context.Context, channelID string, connected bool) error {
	c, ok := m.byChannel[channelID]
	if !ok {
		return ErrNotFound
	}
	c.Connected = connected
	m.byChannel[channelID] = c
	return nil
}

func (m *memConnStore) Touch(_ context.Context, channelID string, at time.Time) error {
	c, ok := m.byChannel[channelID]
	if !ok {
		return ErrNotFound
	}
	c.LastActive = at
	m.byChannel[channelID] = c
	return nil
}

func (m *memConnStore) Delete(_ context.Context, channelID string) error {
	if _, ok := m.byChannel[channelID]; !ok {
		return ErrNotFound
	}
	delete(m.byChannel, channelID)
	return nil
}

func (m *memConnStore) DeleteByServer(_ context.Context, serverID string) (int64, error) {
	var n int64
	for ch, c := range m.byChannel {
		if c.ServerID == serverID {
			delete(m.byChannel, ch)
			n++
		}
	}
	return n, nil
}

// memHubStore covers only what the decorator touches.
type memHubStore struct {
	HubStore
	hubs map[string]Hub
}

func newMemHubStore() *memHubStore {
	return &memHubStore{hubs: map[string]Hub{}}
}

func (m *memHubStore) Update(_ context.Context, h Hub) error {
	if _, ok := m.hubs[h.ID]; !ok {
		return ErrNotFound
	}
	m.hubs[h.ID] = h
	return nil
}

func (m *memHubStore) Delete(_ context.Context, id string) error {
	if _, ok := m.hubs[id]; !ok {
		return ErrNotFound
	}
	delete(m.hubs, id)
	return nil
}

func contains(haystack []string, want string) bool {
	for _, s := range haystack {
		if s == want {
			return true
		}
	}
	return false
}

func TestInvalidationOnRebind(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	conns := newMemConnStore()
	wrapped := WithInvalidation(Stores{Connections: conns, Hubs: newMemHubStore()}, inv)

	if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: "c1", ServerID: "s1", HubID: "hA"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Moving the channel to another hub must drop both rosters.
	if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: "c1", ServerID: "s1", HubID: "hB"}); err != nil {
		t.Fatalf("Upsert rebind: %v", err)
	}

	if !contains(inv.connections, "c1") {
		t.Errorf("connection key c1 not invalidated: %v", inv.connections)
	}
	if !contains(inv.hubs, "hA") || !contains(inv.hubs, "hB") {
		t.Errorf("hub keys missing, got %v want both hA and hB", inv.hubs)
	}
}

func TestInvalidationOnTouchSkipped(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	conns := newMemConnStore()
	wrapped := WithInvalidation(Stores{Connections: conns, Hubs: newMemHubStore()}, inv)

	if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: "c1", ServerID: "s1", HubID: "hA"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	before := len(inv.connections) + len(inv.hubs)

	if err := wrapped.Connections.Touch(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if got := len(inv.connections) + len(inv.hubs); got != before {
		t.Errorf("Touch invalidated %d extra keys, want none", got-before)
	}
}

func TestInvalidationOnHubDelete(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	conns := newMemConnStore()
	hubs := newMemHubStore()
	hubs.hubs["h1"] = Hub{ID: "h1", Name: "Hub"}
	wrapped := WithInvalidation(Stores{Connections: conns, Hubs: hubs}, inv)

	for _, ch := range []string{"c1", "c2"} {
		if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: ch, ServerID: "s1", HubID: "h1"}); err != nil {
			t.Fatalf("Upsert %s: %v", ch, err)
		}
	}
	inv.connections, inv.hubs = nil, nil

	if err := wrapped.Hubs.Delete(ctx, "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !contains(inv.hubs, "h1") {
		t.Errorf("hub key h1 not invalidated: %v", inv.hubs)
	}
	for _, ch := range []string{"c1", "c2"} {
		if !contains(inv.connections, ch) {
			t.Errorf("member connection %s not invalidated: %v", ch, inv.connections)
		}
	}
}

func TestInvalidationOnDeleteByServer(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	conns := newMemConnStore()
	wrapped := WithInvalidation(Stores{Connections: conns, Hubs: newMemHubStore()}, inv)

	if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: "c1", ServerID: "s1", HubID: "hA"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := wrapped.Connections.Upsert(ctx, Connection{ChannelID: "c2", ServerID: "s1", HubID: "hB"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	inv.connections, inv.hubs = nil, nil

	n, err := wrapped.Connections.DeleteByServer(ctx, "s1")
	if err != nil {
		t.Fatalf("DeleteByServer: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteByServer removed %d, want 2", n)
	}
	if !contains(inv.connections, "c1") || !contains(inv.connections, "c2") {
		t.Errorf("connection keys missing: %v", inv.connections)
	}
	if !contains(inv.hubs, "hA") || !contains(inv.hubs, "hB") {
		t.Errorf("hub keys missing: %v", inv.hubs)
	}
}

func TestInvalidationSkippedOnFailedWrite(t *testing.T) {
	ctx := context.Background()
	inv := &recordingInvalidator{}
	conns := newMemConnStore()
	wrapped := WithInvalidation(Stores{Connections: conns, Hubs: newMemHubStore()}, inv)

	err := wrapped.Connections.Delete(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete = %v, want ErrNotFound", err)
	}
	if len(inv.connections) != 0 || len(inv.hubs) != 0 {
		t.Errorf("failed write still invalidated keys: %v %v", inv.connections, inv.hubs)
	}
}
