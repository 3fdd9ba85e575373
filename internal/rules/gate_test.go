package rules

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

func newTestGate(t *testing.T) (*Gate, *miniredis.Miniredis, store.Stores) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewStores(db)

	require.NoError(t, st.Hubs.Create(context.Background(), store.Hub{
		ID: "h1", Name: "Art", OwnerUserID: "owner", Rules: []string{"Be kind"},
	}))
	return NewGate(rdb, st.Acceptances, time.Minute), mr, st
}

func TestCheckAdmitsRulelessHub(t *testing.T) {
	g, mr, _ := newTestGate(t)

	out, err := g.Check(context.Background(), "u1", &store.Hub{ID: "h2", Name: "Open"})
	require.NoError(t, err)
	require.Equal(t, Admitted, out)
	require.Empty(t, mr.Keys())
}

func TestCheckPromptsOncePerWindow(t *testing.T) {
	ctx := context.Background()
	g, mr, st := newTestGate(t)
	hub, err := st.Hubs.Find(ctx, "h1")
	require.NoError(t, err)

	out, err := g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, DeniedShown, out)
	require.True(t, mr.Exists("rules:shown:h1:u1"))

	// Repeat messages within the window stay silent.
	for i := 0; i < 3; i++ {
		out, err = g.Check(ctx, "u1", hub)
		require.NoError(t, err)
		require.Equal(t, DeniedCooldown, out)
	}

	// A different user gets their own prompt.
	out, err = g.Check(ctx, "u2", hub)
	require.NoError(t, err)
	require.Equal(t, DeniedShown, out)

	// After the window lapses the prompt may reappear.
	mr.FastForward(2 * time.Minute)
	out, err = g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, DeniedShown, out)
}

func TestAcceptAdmitsImmediately(t *testing.T) {
	ctx := context.Background()
	g, mr, st := newTestGate(t)
	hub, err := st.Hubs.Find(ctx, "h1")
	require.NoError(t, err)

	out, err := g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, DeniedShown, out)

	require.NoError(t, g.Accept(ctx, "u1", "h1"))
	require.True(t, mr.Exists("rules:accepted:h1:u1"))
	require.False(t, mr.Exists("rules:shown:h1:u1"), "accepting lifts the prompt cooldown")

	out, err = g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, Admitted, out)

	// The durable row exists too.
	_, err = st.Acceptances.Find(ctx, "u1", "h1")
	require.NoError(t, err)
}

func TestCheckPrimesMarkerFromStore(t *testing.T) {
	ctx := context.Background()
	g, mr, st := newTestGate(t)
	hub, err := st.Hubs.Find(ctx, "h1")
	require.NoError(t, err)

	// Acceptance recorded earlier, cache cold (fresh process).
	require.NoError(t, st.Acceptances.Create(ctx, "u1", "h1"))

	out, err := g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, Admitted, out)
	require.True(t, mr.Exists("rules:accepted:h1:u1"), "store hit must prime the marker")
}

func TestCheckFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	g, mr, st := newTestGate(t)
	hub, err := st.Hubs.Find(ctx, "h1")
	require.NoError(t, err)

	require.NoError(t, st.Acceptances.Create(ctx, "u1", "h1"))
	mr.SetError("connection refused")

	out, err := g.Check(ctx, "u1", hub)
	require.NoError(t, err)
	require.Equal(t, Admitted, out, "authoritative acceptance must win over a dead cache")
}
