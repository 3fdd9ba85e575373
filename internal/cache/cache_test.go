package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
)

func newTestResolver(t *testing.T) (*Resolver, *miniredis.Miniredis, store.Stores) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewStores(db)

	r := NewResolver(rdb, st, time.Minute)
	t.Cleanup(r.Close)
	return r, mr, st
}

func seedHub(t *testing.T, st store.Stores) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Hubs.Create(ctx, store.Hub{ID: "h1", Name: "Gaming", OwnerUserID: "u1"}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c1", ServerID: "s1", HubID: "h1", Connected: true,
		WebhookURL: "https://discord.com/api/webhooks/1/a",
	}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c2", ServerID: "s2", HubID: "h1", Connected: true,
		WebhookURL: "https://discord.com/api/webhooks/2/b",
	}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c3", ServerID: "s3", HubID: "h1", Connected: false,
	}))
}

func TestResolveChannel(t *testing.T) {
	ctx := context.Background()
	r, mr, st := newTestResolver(t)
	seedHub(t, st)

	route, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Gaming", route.Hub.Name)
	require.Equal(t, "c1", route.Connection.ChannelID)

	// Siblings exclude the source and the disconnected member.
	require.Len(t, route.Siblings, 1)
	require.Equal(t, "c2", route.Siblings[0].ChannelID)

	// Both shared-tier keys were populated.
	require.True(t, mr.Exists("hub:connection:c1"))
	require.True(t, mr.Exists("hub:data:h1"))
}

func TestResolveChannelUnbound(t *testing.T) {
	ctx := context.Background()
	r, mr, _ := newTestResolver(t)

	_, err := r.ResolveChannel(ctx, "nowhere")
	require.ErrorIs(t, err, store.ErrNotFound)
	// Unbound channels never pollute the shared tier.
	require.False(t, mr.Exists("hub:connection:nowhere"))

	// Second miss answers from the local negative entry.
	_, err = r.ResolveChannel(ctx, "nowhere")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveChannelFailsOpenWithoutRedis(t *testing.T) {
	ctx := context.Background()
	r, mr, st := newTestResolver(t)
	seedHub(t, st)

	mr.SetError("connection refused")
	defer mr.SetError("")

	route, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "Gaming", route.Hub.Name)
}

func TestResolveChannelServedFromSharedTier(t *testing.T) {
	ctx := context.Background()
	r, _, st := newTestResolver(t)
	seedHub(t, st)

	_, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)

	// A second resolver process sharing the Redis tier must answer without
	// fresh local state.
	r2 := NewResolver(r.rdb, r.st, time.Minute)
	defer r2.Close()
	route, err := r2.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "h1", route.Connection.HubID)
}

func TestInvalidationMakesMutationVisible(t *testing.T) {
	ctx := context.Background()
	r, mr, st := newTestResolver(t)
	seedHub(t, st)

	_, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.True(t, mr.Exists("hub:data:h1"))

	// Disconnect c2 and invalidate the way the store decorator would.
	require.NoError(t, st.Connections.SetConnected(ctx, "c2", false))
	r.InvalidateConnection(ctx, "c2")
	r.InvalidateHub(ctx, "h1")
	require.False(t, mr.Exists("hub:data:h1"))

	route, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, route.Siblings)
}

func TestOnConnectionModifiedDiscoversHub(t *testing.T) {
	ctx := context.Background()
	r, mr, st := newTestResolver(t)
	seedHub(t, st)

	_, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)
	require.True(t, mr.Exists("hub:connection:c1"))
	require.True(t, mr.Exists("hub:data:h1"))

	// Caller knows only the channel; the hub key must still fall.
	r.OnConnectionModified(ctx, "c1", "")
	require.False(t, mr.Exists("hub:connection:c1"))
	require.False(t, mr.Exists("hub:data:h1"))
}

func TestResolveChannelDropsStaleHubBinding(t *testing.T) {
	ctx := context.Background()
	r, _, st := newTestResolver(t)
	seedHub(t, st)

	_, err := r.ResolveChannel(ctx, "c1")
	require.NoError(t, err)

	// Hub vanishes but the connection entry is still cached (e.g. a missed
	// invalidation from another process). Resolution must not wedge.
	require.NoError(t, st.Hubs.Delete(ctx, "h1"))
	r.InvalidateHub(ctx, "h1")

	_, err = r.ResolveChannel(ctx, "c1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLocalTTL(t *testing.T) {
	l := NewLocal[string](20 * time.Millisecond)
	defer l.Close()

	l.Set("k", "v")
	v, ok := l.Get("k")
	if !ok || v != "v" {
		t.Fatalf("Get = %q, %v; want v, true", v, ok)
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := l.Get("k"); ok {
		t.Error("entry survived past its TTL")
	}
}

func TestLocalDelete(t *testing.T) {
	l := NewLocal[int](time.Minute)
	defer l.Close()

	l.Set("a", 1)
	l.Set("b", 2)
	l.Delete("a")
	if _, ok := l.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	if v, ok := l.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = %d, %v; want 2, true", v, ok)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}
