package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/admission"
	"github.com/interchat-hq/interchat/internal/broadcast"
	"github.com/interchat-hq/interchat/internal/cache"
	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/rules"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

const (
	urlC1 = "https://discord.com/api/webhooks/101/c1"
	urlC2 = "https://discord.com/api/webhooks/102/c2"
)

type sentWebhook struct {
	url     string
	payload transport.WebhookPayload
}

// fakeRelay implements the webhook client, the notifier, and the fetcher in
// one stub so the fixture wiring stays short.
type fakeRelay struct {
	mu      sync.Mutex
	seq     int
	sends   []sentWebhook
	edits   map[string]transport.WebhookPayload
	deletes []string
	notices map[string][]transport.Notice
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		edits:   map[string]transport.WebhookPayload{},
		notices: map[string][]transport.Notice{},
	}
}

func (f *fakeRelay) SendWebhook(_ context.Context, url string, p transport.WebhookPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("m%d", f.seq)
	f.sends = append(f.sends, sentWebhook{url: url, payload: p})
	return id, nil
}

func (f *fakeRelay) EditWebhookMessage(_ context.Context, _, messageID string, p transport.WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[messageID] = p
	return nil
}

func (f *fakeRelay) DeleteWebhookMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeRelay) CreateWebhook(_ context.Context, channelID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("https://discord.com/api/webhooks/%d/fresh-%s", f.seq, channelID), nil
}

func (f *fakeRelay) ListChannelWebhooks(context.Context, string) ([]transport.Webhook, error) {
	return nil, nil
}

func (f *fakeRelay) SendNotice(_ context.Context, channelID string, n transport.Notice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[channelID] = append(f.notices[channelID], n)
	return "notice-1", nil
}

func (f *fakeRelay) EditNotice(context.Context, string, string, transport.Notice) error { return nil }

func (f *fakeRelay) SendTyping(context.Context, string) error { return nil }

func (f *fakeRelay) FetchUser(_ context.Context, id string) (*transport.UserInfo, error) {
	return &transport.UserInfo{ID: id, Username: "user-" + id}, nil
}

func (f *fakeRelay) FetchChannel(_ context.Context, id string) (*transport.ChannelInfo, error) {
	return &transport.ChannelInfo{ID: id}, nil
}

func (f *fakeRelay) FetchServer(_ context.Context, id string) (*transport.ServerInfo, error) {
	return &transport.ServerInfo{ID: id, Name: "Server " + strings.ToUpper(id)}, nil
}

func (f *fakeRelay) sentTo(url string) []sentWebhook {
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

func (f *fakeRelay) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeRelay) noticeCount(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices[channelID])
}

func (f *fakeRelay) noticeAt(channelID string, i int) transport.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notices[channelID][i]
}

func (f *fakeRelay) editOf(messageID string) (transport.WebhookPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.edits[messageID]
	return p, ok
}

func (f *fakeRelay) lastSend(t *testing.T) sentWebhook {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sends)
	return f.sends[len(f.sends)-1]
}

func (f *fakeRelay) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

type procFixture struct {
	p    *Processor
	ft   *fakeRelay
	st   store.Stores
	rdb  *redis.Client
	mm   *call.Matchmaker
	gate *rules.Gate
	rs   *broadcast.RecordStore
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Relay: config.RelayConfig{
			CacheTTL:                60,
			NotifyCooldown:          60,
			BlockedMessageResponses: []string{"Your message tripped a hub filter."},
		},
	}

	resolver := cache.NewResolver(rdb, sqlite.NewStores(db), time.Minute)
	t.Cleanup(resolver.Close)
	st := store.WithInvalidation(sqlite.NewStores(db), resolver)

	ft := newFakeRelay()
	prov := webhooks.NewProvisioner(ft, st.Connections, "bot-1")
	gate := rules.NewGate(rdb, st.Acceptances, time.Minute)
	pipeline := admission.NewPipeline(st.Bans, st.Hubs, admission.NewSpamGuard(time.Second, 100), nil, nil)
	t.Cleanup(pipeline.Close)

	rs := broadcast.NewRecordStore(rdb, time.Hour)
	bcast := broadcast.New(ft, ft, prov, rs, st.Connections, broadcast.Config{})
	t.Cleanup(bcast.Close)

	dir := call.NewDirectory(rdb)
	session := call.NewSession(dir, ft, ft, prov, call.SessionOptions{
		Retention:        time.Hour,
		SendTimeout:      time.Second,
		TypingRefractory: time.Second,
	})
	mm := call.NewMatchmaker(dir, st.Bans, st.Connections, prov, ft, call.Options{
		MaxWait:   time.Minute,
		Cooldown:  time.Minute,
		Retention: time.Hour,
	})

	p := New(Deps{
		Config:      cfg,
		Resolver:    resolver,
		Stores:      st,
		Gate:        gate,
		Admission:   pipeline,
		Broadcaster: bcast,
		Session:     session,
		Provisioner: prov,
		Notifier:    ft,
		Fetcher:     ft,
		Redis:       rdb,
		RulesPrompt: func(hub *store.Hub) transport.Notice {
			return transport.Notice{Text: "Please accept the rules of " + hub.Name}
		},
	})
	t.Cleanup(p.Close)

	return &procFixture{p: p, ft: ft, st: st, rdb: rdb, mm: mm, gate: gate, rs: rs}
}

// seedHub creates a two-channel hub with webhooks already provisioned.
func (fx *procFixture) seedHub(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.st.Hubs.Create(ctx, store.Hub{ID: "h1", Name: "Gaming", OwnerUserID: "owner"}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c1", ServerID: "s1", HubID: "h1", Connected: true, WebhookURL: urlC1,
	}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c2", ServerID: "s2", HubID: "h1", Connected: true, WebhookURL: urlC2,
	}))
}

func snapshot(id, channelID, serverID, userID, text string) relay.MessageSnapshot {
	return relay.MessageSnapshot{
		MessageID:  id,
		ChannelID:  channelID,
		ServerID:   serverID,
		AuthorID:   userID,
		AuthorName: "Pat",
		Content:    text,
		Timestamp:  time.Now().UTC(),
	}
}

func (fx *procFixture) waitSends(t *testing.T, url string, n int) []sentWebhook {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(fx.ft.sentTo(url)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return fx.ft.sentTo(url)
}

func TestHubHappyPath(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello"))
	require.True(t, res.Handled)
	require.Equal(t, "h1", res.HubID)

	sends := fx.waitSends(t, urlC2, 1)
	require.Len(t, sends, 1)
	require.Equal(t, "hello", sends[0].payload.Embed.Description)
	require.Equal(t, "Pat • Server S1", sends[0].payload.Username)
	require.Empty(t, fx.ft.sentTo(urlC1), "no echo back to the source channel")

	rec, err := fx.rs.FindBySource(ctx, "msg-1")
	require.NoError(t, err)
	require.Contains(t, rec.Broadcasts, "c2")

	// The author's User row was upserted on the way through.
	u, err := fx.st.Users.Find(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Pat", u.DisplayName)

	// Stats land asynchronously.
	require.Eventually(t, func() bool {
		score, err := fx.rdb.ZScore(ctx, "leaderboard:messages:users", "u1").Result()
		return err == nil && score == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBotAndEmptyMessagesAreIgnored(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	bot := snapshot("msg-b", "c1", "s1", "u1", "beep")
	bot.AuthorBot = true
	require.False(t, fx.p.Process(ctx, bot).Handled)

	require.False(t, fx.p.Process(ctx, snapshot("msg-e", "c1", "s1", "u1", "")).Handled)
	require.Zero(t, fx.ft.sendCount())
}

func TestUnboundChannelIsUnhandled(t *testing.T) {
	fx := newProcFixture(t)
	res := fx.p.Process(context.Background(), snapshot("msg-1", "c-nowhere", "s9", "u1", "hi"))
	require.False(t, res.Handled)
	require.Zero(t, fx.ft.sendCount())
}

func TestPausedConnectionDoesNotRelay(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()
	require.NoError(t, fx.st.Connections.SetConnected(ctx, "c1", false))

	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello"))
	require.False(t, res.Handled)
	require.Zero(t, fx.ft.sendCount())
}

func TestMissingWebhookIsProvisionedInline(t *testing.T) {
	fx := newProcFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.st.Hubs.Create(ctx, store.Hub{ID: "h1", Name: "Gaming", OwnerUserID: "owner"}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c1", ServerID: "s1", HubID: "h1", Connected: true, // no webhook yet
	}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c2", ServerID: "s2", HubID: "h1", Connected: true, WebhookURL: urlC2,
	}))

	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello"))
	require.True(t, res.Handled)

	conn, err := fx.st.Connections.Find(ctx, "c1")
	require.NoError(t, err)
	require.NotEmpty(t, conn.WebhookURL)
	fx.waitSends(t, urlC2, 1)
}

func TestBlockedMessageNotifiesAuthorOncePerWindow(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	require.NoError(t, fx.st.Hubs.UpsertAntiSwearRule(ctx, store.AntiSwearRule{
		ID: "r1", HubID: "h1", Name: "noswear",
		Patterns: []string{"heck"},
		Actions:  []string{store.ActionBlock},
	}))

	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "what the heck"))
	require.False(t, res.Handled)
	require.Zero(t, fx.ft.sendCount())
	_, err := fx.rs.FindBySource(ctx, "msg-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.Equal(t, 1, fx.ft.noticeCount("c1"))
	require.Contains(t, fx.ft.noticeAt("c1", 0).Text, "<@u1>")
	require.Contains(t, fx.ft.noticeAt("c1", 0).Text, "tripped a hub filter")

	// A second blocked message inside the cooldown stays silent.
	fx.p.Process(ctx, snapshot("msg-2", "c1", "s1", "u1", "heck again"))
	require.Equal(t, 1, fx.ft.noticeCount("c1"))
}

func TestRulesPromptThenAdmit(t *testing.T) {
	fx := newProcFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.st.Hubs.Create(ctx, store.Hub{
		ID: "h1", Name: "Art", OwnerUserID: "owner", Rules: []string{"Be kind"},
	}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c1", ServerID: "s1", HubID: "h1", Connected: true, WebhookURL: urlC1,
	}))
	require.NoError(t, fx.st.Connections.Upsert(ctx, store.Connection{
		ChannelID: "c2", ServerID: "s2", HubID: "h1", Connected: true, WebhookURL: urlC2,
	}))

	// First message: no broadcast, prompt shown.
	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hi"))
	require.False(t, res.Handled)
	require.Equal(t, 1, fx.ft.noticeCount("c1"))
	require.Contains(t, fx.ft.noticeAt("c1", 0).Text, "rules of Art")

	// Second message inside the prompt window: silent denial.
	res = fx.p.Process(ctx, snapshot("msg-2", "c1", "s1", "u1", "hello?"))
	require.False(t, res.Handled)
	require.Equal(t, 1, fx.ft.noticeCount("c1"))
	require.Zero(t, fx.ft.sendCount())

	// Acceptance opens the gate.
	require.NoError(t, fx.gate.Accept(ctx, "u1", "h1"))
	res = fx.p.Process(ctx, snapshot("msg-3", "c1", "s1", "u1", "hello!"))
	require.True(t, res.Handled)
	fx.waitSends(t, urlC2, 1)
}

func TestBannedUserMessageIsDropped(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	require.NoError(t, fx.st.Bans.Create(ctx, store.Ban{
		ID: "b1", SubjectKind: store.SubjectUser, SubjectID: "u1",
		ModeratorUserID: "staff", Reason: "spam", Kind: store.BanPermanent,
		Status: store.BanActive, CreatedAt: time.Now().UTC(),
	}))

	res := fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello"))
	require.False(t, res.Handled)
	require.Zero(t, fx.ft.sendCount())
}

func TestCallMessageRelaysToPeer(t *testing.T) {
	fx := newProcFixture(t)
	ctx := context.Background()

	r1, err := fx.mm.Initiate(ctx, "c5", "s5", "u5")
	require.NoError(t, err)
	require.Equal(t, call.OutcomeQueued, r1.Outcome)
	r2, err := fx.mm.Initiate(ctx, "c6", "s6", "u6")
	require.NoError(t, err)
	require.Equal(t, call.OutcomeConnected, r2.Outcome)

	before := fx.ft.sendCount()
	res := fx.p.Process(ctx, snapshot("msg-1", "c5", "s5", "u5", "hi there"))
	require.True(t, res.Handled)
	require.Empty(t, res.HubID)

	require.Equal(t, before+1, fx.ft.sendCount())
	last := fx.ft.lastSend(t)
	require.Equal(t, "hi there", last.payload.Content)
	require.Contains(t, last.url, "c6", "relayed to the peer's webhook")
}

func TestEditPropagatesAfterReadmission(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	require.True(t, fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello")).Handled)
	fx.waitSends(t, urlC2, 1)
	rec, err := fx.rs.FindBySource(ctx, "msg-1")
	require.NoError(t, err)
	mirrorID := rec.Broadcasts["c2"]

	fx.p.ProcessEdit(ctx, relay.EditSnapshot{
		MessageID: "msg-1", ChannelID: "c1", ServerID: "s1",
		AuthorID: "u1", NewContent: "hello!!",
	})
	p, ok := fx.ft.editOf(mirrorID)
	require.True(t, ok)
	require.Equal(t, "hello!!", p.Embed.Description)
}

func TestBlockedEditIsNotPropagated(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	require.True(t, fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello")).Handled)
	fx.waitSends(t, urlC2, 1)

	require.NoError(t, fx.st.Hubs.UpsertAntiSwearRule(ctx, store.AntiSwearRule{
		ID: "r1", HubID: "h1", Name: "noswear",
		Patterns: []string{"heck"},
		Actions:  []string{store.ActionBlock},
	}))

	fx.p.ProcessEdit(ctx, relay.EditSnapshot{
		MessageID: "msg-1", ChannelID: "c1", ServerID: "s1",
		AuthorID: "u1", NewContent: "heck",
	})
	rec, err := fx.rs.FindBySource(ctx, "msg-1")
	require.NoError(t, err)
	_, ok := fx.ft.editOf(rec.Broadcasts["c2"])
	require.False(t, ok)
}

func TestDeleteCascades(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	require.True(t, fx.p.Process(ctx, snapshot("msg-1", "c1", "s1", "u1", "hello")).Handled)
	fx.waitSends(t, urlC2, 1)
	rec, err := fx.rs.FindBySource(ctx, "msg-1")
	require.NoError(t, err)

	fx.p.ProcessDelete(ctx, relay.DeleteSnapshot{MessageID: "msg-1", ChannelID: "c1"})
	require.Contains(t, fx.ft.deleted(), rec.Broadcasts["c2"])
}

func TestServerRemovedDropsItsConnections(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	fx.p.ProcessServerRemoved(ctx, "s2")
	_, err := fx.st.Connections.Find(ctx, "c2")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The other server's binding is untouched.
	_, err = fx.st.Connections.Find(ctx, "c1")
	require.NoError(t, err)
}

func TestAttachmentPrefersProxyURL(t *testing.T) {
	fx := newProcFixture(t)
	fx.seedHub(t)
	ctx := context.Background()

	m := snapshot("msg-1", "c1", "s1", "u1", "look")
	m.Attachments = []relay.Attachment{{
		URL:         "https://cdn.discordapp.com/attachments/1/2/cat.png",
		ProxyURL:    "https://media.discordapp.net/attachments/1/2/cat.png",
		ContentType: "image/png",
	}}
	require.True(t, fx.p.Process(ctx, m).Handled)

	sends := fx.waitSends(t, urlC2, 1)
	require.Equal(t, "https://media.discordapp.net/attachments/1/2/cat.png", sends[0].payload.Embed.ImageURL)
}
