package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/transport"
)

const testBotID = "bot-1"

type fakeClient struct {
	mu      sync.Mutex
	hooks   map[string][]transport.Webhook
	created atomic.Int64
	listErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{hooks: map[string][]transport.Webhook{}}
}

func (f *fakeClient) CreateWebhook(ctx context.Context, channelID, name string) (string, error) {
	n := f.created.Add(1)
	url := fmt.Sprintf("https://discord.com/api/webhooks/%d/tok-%s", n, channelID)
	f.mu.Lock()
	f.hooks[channelID] = append(f.hooks[channelID], transport.Webhook{
		ID:        fmt.Sprint(n),
		ChannelID: channelID,
		URL:       url,
		OwnerID:   testBotID,
	})
	f.mu.Unlock()
	return url, nil
}

func (f *fakeClient) ListChannelWebhooks(ctx context.Context, channelID string) ([]transport.Webhook, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Webhook(nil), f.hooks[channelID]...), nil
}

func newTestConns(t *testing.T) store.ConnectionStore {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewStores(db)

	ctx := context.Background()
	require.NoError(t, st.Hubs.Create(ctx, store.Hub{ID: "h1", Name: "Gaming", OwnerUserID: "u1"}))
	for _, ch := range []string{"c1", "c2"} {
		require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
			ChannelID: ch, ServerID: "s1", HubID: "h1", Connected: true,
		}))
	}
	return st.Connections
}

func TestEnsureCreatesOnce(t *testing.T) {
	conns := newTestConns(t)
	client := newFakeClient()
	p := NewProvisioner(client, conns, testBotID)
	ctx := context.Background()

	conn, err := conns.Find(ctx, "c1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	urls := make([]string, 8)
	errs := make([]error, 8)
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = p.Ensure(ctx, conn)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, client.created.Load(), "concurrent first sends must share one creation")
	for i := range urls {
		require.NoError(t, errs[i])
		require.Equal(t, urls[0], urls[i])
	}

	got, err := conns.Find(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, urls[0], got.WebhookURL)
}

func TestEnsureShortCircuitsOnRecordedURL(t *testing.T) {
	conns := newTestConns(t)
	client := newFakeClient()
	p := NewProvisioner(client, conns, testBotID)
	ctx := context.Background()

	require.NoError(t, conns.SetWebhookURL(ctx, "c1", "https://discord.com/api/webhooks/1/t"))
	conn, err := conns.Find(ctx, "c1")
	require.NoError(t, err)

	url, err := p.Ensure(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, "https://discord.com/api/webhooks/1/t", url)
	require.Zero(t, client.created.Load())
}

func TestEnsureReusesOwnWebhook(t *testing.T) {
	conns := newTestConns(t)
	client := newFakeClient()
	client.hooks["c1"] = []transport.Webhook{
		{ID: "9", ChannelID: "c1", URL: "", OwnerID: testBotID},
		{ID: "10", ChannelID: "c1", URL: "https://discord.com/api/webhooks/10/old", OwnerID: testBotID},
		{ID: "11", ChannelID: "c1", URL: "https://discord.com/api/webhooks/11/x", OwnerID: "someone-else"},
	}
	p := NewProvisioner(client, conns, testBotID)
	ctx := context.Background()

	conn, err := conns.Find(ctx, "c1")
	require.NoError(t, err)

	url, err := p.Ensure(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, "https://discord.com/api/webhooks/10/old", url)
	require.Zero(t, client.created.Load(), "an owned webhook with a token must be reused")

	got, err := conns.Find(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, url, got.WebhookURL)
}

func TestEnsureCreatesWhenListingDenied(t *testing.T) {
	conns := newTestConns(t)
	client := newFakeClient()
	client.listErr = errors.New("missing permission")
	p := NewProvisioner(client, conns, testBotID)
	ctx := context.Background()

	conn, err := conns.Find(ctx, "c1")
	require.NoError(t, err)

	url, err := p.Ensure(ctx, conn)
	require.NoError(t, err)
	require.NotEmpty(t, url)
	require.EqualValues(t, 1, client.created.Load())
}

func TestDiscardClearsURL(t *testing.T) {
	conns := newTestConns(t)
	client := newFakeClient()
	p := NewProvisioner(client, conns, testBotID)
	ctx := context.Background()

	require.NoError(t, conns.SetWebhookURL(ctx, "c1", "https://discord.com/api/webhooks/1/t"))
	require.NoError(t, p.Discard(ctx, "c1"))

	got, err := conns.Find(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, got.WebhookURL)

	// The channel provisions fresh on the next send.
	url, err := p.Ensure(ctx, got)
	require.NoError(t, err)
	require.NotEmpty(t, url)
	require.EqualValues(t, 1, client.created.Load())
}
