package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

type sentWebhook struct {
	url     string
	payload transport.WebhookPayload
}

type fakeTransport struct {
	mu      sync.Mutex
	seq     int
	sends   []sentWebhook
	edits   map[string]transport.WebhookPayload // messageID -> payload
	deletes []string                            // messageIDs
	notices []string                            // channelIDs
	// sendErrs queues errors per webhook URL; once drained, sends succeed.
	sendErrs map[string][]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		edits:    map[string]transport.WebhookPayload{},
		sendErrs: map[string][]error{},
	}
}

func (f *fakeTransport) failNext(url string, errs ...error) {
	f.mu.Lock()
	f.sendErrs[url] = append(f.sendErrs[url], errs...)
	f.mu.Unlock()
}

func (f *fakeTransport) SendWebhook(ctx context.Context, url string, p transport.WebhookPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.sendErrs[url]; len(q) > 0 {
		err := q[0]
		f.sendErrs[url] = q[1:]
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("m%d", f.seq)
	f.sends = append(f.sends, sentWebhook{url: url, payload: p})
	return id, nil
}

func (f *fakeTransport) EditWebhookMessage(ctx context.Context, url, messageID string, p transport.WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = p
	return nil
}

func (f *fakeTransport) DeleteWebhookMessage(ctx context.Context, url, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeTransport) CreateWebhook(ctx context.Context, channelID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("https://discord.com/api/webhooks/%d/fresh-%s", f.seq, channelID), nil
}

func (f *fakeTransport) ListChannelWebhooks(ctx context.Context, channelID string) ([]transport.Webhook, error) {
	return nil, nil
}

func (f *fakeTransport) SendNotice(ctx context.Context, channelID string, n transport.Notice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, channelID)
	return "notice-1", nil
}

func (f *fakeTransport) EditNotice(ctx context.Context, channelID, messageID string, n transport.Notice) error {
	return nil
}

func (f *fakeTransport) SendTyping(ctx context.Context, channelID string) error { return nil }

func (f *fakeTransport) sentTo(url string) []sentWebhook {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentWebhook
	for _, s := range f.sends {
		if s.url == url {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

const (
	urlC2 = "https://discord.com/api/webhooks/102/c2"
	urlC3 = "https://discord.com/api/webhooks/103/c3"
)

type fixture struct {
	b  *Broadcaster
	ft *fakeTransport
	st store.Stores
	rs *RecordStore
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewStores(db)

	ctx := context.Background()
	require.NoError(t, st.Hubs.Create(ctx, store.Hub{ID: "h1", Name: "Gaming", OwnerUserID: "owner"}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c1", ServerID: "s1", HubID: "h1", Connected: true,
		WebhookURL: "https://discord.com/api/webhooks/101/c1",
	}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c2", ServerID: "s2", HubID: "h1", Connected: true, WebhookURL: urlC2,
	}))
	require.NoError(t, st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c3", ServerID: "s3", HubID: "h1", Connected: true, WebhookURL: urlC3, Compact: true,
	}))

	ft := newFakeTransport()
	rs := NewRecordStore(rdb, time.Hour)
	prov := webhooks.NewProvisioner(ft, st.Connections, "bot-1")
	b := New(ft, ft, prov, rs, st.Connections, cfg)
	t.Cleanup(b.Close)
	return &fixture{b: b, ft: ft, st: st, rs: rs}
}

func (fx *fixture) siblings(t *testing.T, channelIDs ...string) []store.Connection {
	t.Helper()
	var out []store.Connection
	for _, id := range channelIDs {
		c, err := fx.st.Connections.Find(context.Background(), id)
		require.NoError(t, err)
		out = append(out, *c)
	}
	return out
}

func testMessage(id, text string) Message {
	return Message{
		SourceMessageID: id,
		SourceChannelID: "c1",
		ServerID:        "s1",
		ServerName:      "Server One",
		HubID:           "h1",
		AuthorID:        "u1",
		AuthorName:      "Pat",
		AuthorAvatar:    "https://cdn.example/u1.png",
		Text:            text,
	}
}

func (fx *fixture) waitRecord(t *testing.T, sourceID string) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		r, err := fx.rs.FindBySource(context.Background(), sourceID)
		if err != nil {
			return false
		}
		rec = r
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestDispatchHappyPath(t *testing.T) {
	fx := newFixture(t, Config{})

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2")))
	rec := fx.waitRecord(t, "src1")

	require.Equal(t, "c1", rec.SourceChannelID)
	require.Len(t, rec.Broadcasts, 1)
	require.Contains(t, rec.Broadcasts, "c2")

	sent := fx.ft.sentTo(urlC2)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].payload.Embed)
	require.Equal(t, "hello", sent[0].payload.Embed.Description)
	require.Equal(t, "Pat • Server One", sent[0].payload.Username)

	// Nothing echoed to the source channel's webhook.
	require.Empty(t, fx.ft.sentTo("https://discord.com/api/webhooks/101/c1"))
}

func TestDispatchCompactRendering(t *testing.T) {
	fx := newFixture(t, Config{})

	msg := testMessage("src1", "hello")
	msg.AttachmentURL = "https://cdn.example/pic.png"
	require.NoError(t, fx.b.Dispatch(msg, fx.siblings(t, "c3")))
	fx.waitRecord(t, "src1")

	sent := fx.ft.sentTo(urlC3)
	require.Len(t, sent, 1)
	require.Nil(t, sent[0].payload.Embed)
	require.Equal(t, "hello\nhttps://cdn.example/pic.png", sent[0].payload.Content)
}

func TestDispatchKeepsPerSourceOrder(t *testing.T) {
	fx := newFixture(t, Config{})
	sibs := fx.siblings(t, "c2")

	for i := 1; i <= 5; i++ {
		require.NoError(t, fx.b.Dispatch(testMessage(fmt.Sprintf("src%d", i), fmt.Sprintf("msg %d", i)), sibs))
	}
	fx.waitRecord(t, "src5")

	sent := fx.ft.sentTo(urlC2)
	require.Len(t, sent, 5)
	for i, s := range sent {
		require.Equal(t, fmt.Sprintf("msg %d", i+1), s.payload.Embed.Description)
	}
}

func TestDispatchNoSiblings(t *testing.T) {
	fx := newFixture(t, Config{})

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "alone"), nil))
	rec := fx.waitRecord(t, "src1")
	require.Empty(t, rec.Broadcasts)
	require.Zero(t, fx.ft.sendCount())
}

func TestDispatchWebhookGoneClearsURL(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.ft.failNext(urlC2, fmt.Errorf("dispatch: %w", transport.ErrWebhookGone))

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2", "c3")))
	rec := fx.waitRecord(t, "src1")

	// The healthy sibling still got its copy.
	require.Contains(t, rec.Broadcasts, "c3")
	require.NotContains(t, rec.Broadcasts, "c2")

	// The dead webhook URL was cleared for re-provisioning.
	c2, err := fx.st.Connections.Find(context.Background(), "c2")
	require.NoError(t, err)
	require.Empty(t, c2.WebhookURL)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	fx := newFixture(t, Config{Retries: 2})
	fx.ft.failNext(urlC2, fmt.Errorf("http 502"), fmt.Errorf("http 502"))

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2")))
	rec := fx.waitRecord(t, "src1")

	require.Contains(t, rec.Broadcasts, "c2", "third attempt should have landed")
	require.Len(t, fx.ft.sentTo(urlC2), 1, "exactly one delivered copy")
}

func TestRepeatedFailureDisconnects(t *testing.T) {
	fx := newFixture(t, Config{
		Retries:         1,
		UnhealthyAfter:  1,
		ProbeInterval:   time.Nanosecond,
		DisconnectAfter: time.Millisecond,
	})
	fx.ft.failNext(urlC2,
		fmt.Errorf("http 502"), fmt.Errorf("http 502"),
		fmt.Errorf("http 502"), fmt.Errorf("http 502"))
	sibs := fx.siblings(t, "c2")

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "one"), sibs))
	fx.waitRecord(t, "src1")
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, fx.b.Dispatch(testMessage("src2", "two"), sibs))
	fx.waitRecord(t, "src2")

	require.Eventually(t, func() bool {
		c2, err := fx.st.Connections.Find(context.Background(), "c2")
		return err == nil && !c2.Connected
	}, 2*time.Second, 5*time.Millisecond, "persistent unhealth should disconnect")

	fx.ft.mu.Lock()
	notices := len(fx.ft.notices)
	fx.ft.mu.Unlock()
	require.Equal(t, 1, notices, "the channel gets one disconnect notice")
}

func TestReplyDecoration(t *testing.T) {
	fx := newFixture(t, Config{})
	sibs := fx.siblings(t, "c2")

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "first"), sibs))
	rec := fx.waitRecord(t, "src1")
	mirrored := rec.Broadcasts["c2"]

	reply := testMessage("src2", "answering")
	reply.ReplyToID = "src1"
	require.NoError(t, fx.b.Dispatch(reply, sibs))
	fx.waitRecord(t, "src2")

	sent := fx.ft.sentTo(urlC2)
	require.Len(t, sent, 2)
	require.Len(t, sent[1].payload.Embed.Fields, 1)
	require.Contains(t, sent[1].payload.Embed.Fields[0].Value, mirrored,
		"reply link must point at the sibling's own mirrored copy")
}

func TestPropagateEdit(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{})

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2")))
	rec := fx.waitRecord(t, "src1")
	mirrored := rec.Broadcasts["c2"]

	require.NoError(t, fx.b.PropagateEdit(ctx, "src1", "hello!!"))
	fx.ft.mu.Lock()
	edited, ok := fx.ft.edits[mirrored]
	fx.ft.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, "hello!!", edited.Embed.Description)

	// Edits can only originate at the source copy.
	require.NoError(t, fx.b.PropagateEdit(ctx, mirrored, "nope"))
	fx.ft.mu.Lock()
	n := len(fx.ft.edits)
	fx.ft.mu.Unlock()
	require.Equal(t, 1, n)
}

func TestPropagateEditExpiredRecordIsNoop(t *testing.T) {
	fx := newFixture(t, Config{})
	require.NoError(t, fx.b.PropagateEdit(context.Background(), "never-seen", "text"))
	fx.ft.mu.Lock()
	defer fx.ft.mu.Unlock()
	require.Empty(t, fx.ft.edits)
}

func TestPropagateDelete(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{})

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2", "c3")))
	rec := fx.waitRecord(t, "src1")

	// Source deletion cascades to every mirrored copy.
	require.NoError(t, fx.b.PropagateDelete(ctx, "src1"))
	fx.ft.mu.Lock()
	deleted := append([]string(nil), fx.ft.deletes...)
	fx.ft.mu.Unlock()
	require.ElementsMatch(t, []string{rec.Broadcasts["c2"], rec.Broadcasts["c3"]}, deleted)
}

func TestPropagateDeleteFromSibling(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, Config{})

	require.NoError(t, fx.b.Dispatch(testMessage("src1", "hello"), fx.siblings(t, "c2", "c3")))
	rec := fx.waitRecord(t, "src1")

	// Deleting one mirrored copy removes the others, not itself.
	require.NoError(t, fx.b.PropagateDelete(ctx, rec.Broadcasts["c2"]))
	fx.ft.mu.Lock()
	deleted := append([]string(nil), fx.ft.deletes...)
	fx.ft.mu.Unlock()
	require.ElementsMatch(t, []string{rec.Broadcasts["c3"]}, deleted)
}
