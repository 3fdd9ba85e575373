package hubs

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

type fakeHookClient struct{ created int }

func (f *fakeHookClient) CreateWebhook(ctx context.Context, channelID, name string) (string, error) {
	f.created++
	return fmt.Sprintf("https://discord.com/api/webhooks/%s/token", channelID), nil
}

func (f *fakeHookClient) ListChannelWebhooks(ctx context.Context, channelID string) ([]transport.Webhook, error) {
	return nil, nil
}

type countingInvalidator struct{ calls []string }

func (c *countingInvalidator) InvalidateRules(hubID string) { c.calls = append(c.calls, hubID) }

func newService(t *testing.T, maxPerOwner int) (*Service, store.Stores, *countingInvalidator) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := sqlite.NewStores(db)
	inv := &countingInvalidator{}
	prov := webhooks.NewProvisioner(&fakeHookClient{}, st.Connections, "bot-1")
	return New(st, prov, inv, maxPerOwner), st, inv
}

func TestCreateValidatesName(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	for _, name := range []string{"", "ab", strings.Repeat("x", 33), "tick`tick", "a@b cd"} {
		_, err := svc.Create(ctx, "o1", name, "", false)
		require.ErrorIs(t, err, ErrBadName, "name %q", name)
	}

	h, err := svc.Create(ctx, "o1", "  Art Lounge  ", "draw things", false)
	require.NoError(t, err)
	require.Equal(t, "Art Lounge", h.Name)
}

func TestCreateEnforcesOwnerQuota(t *testing.T) {
	svc, _, _ := newService(t, 2)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Hub One", "", false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "o1", "Hub Two", "", false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "o1", "Hub Three", "", false)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// The cap is per owner, not global.
	_, err = svc.Create(ctx, "o2", "Hub Three", "", false)
	require.NoError(t, err)
}

func TestCreateRefusesTakenName(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "o2", "gaming", "", false)
	require.ErrorIs(t, err, store.ErrDuplicateName)
}

func TestJoinBindsChannelAndProvisionsWebhook(t *testing.T) {
	svc, st, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)

	conn, err := svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)
	require.True(t, conn.Connected)
	require.NotEmpty(t, conn.WebhookURL)

	stored, err := st.Connections.Find(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, conn.WebhookURL, stored.WebhookURL)
}

func TestJoinPrivateHubIsOwnerOnly(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Secret Den", "", true)
	require.NoError(t, err)

	_, err = svc.Join(ctx, "Secret Den", "c1", "s1", "u1")
	require.ErrorIs(t, err, ErrPrivateHub)

	_, err = svc.Join(ctx, "Secret Den", "c1", "s1", "o1")
	require.NoError(t, err)
}

func TestJoinRefusesBoundChannel(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "o2", "Movies", "", false)
	require.NoError(t, err)

	_, err = svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "Movies", "c1", "s1", "u1")
	require.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestLeaveResumeLifecycle(t *testing.T) {
	svc, st, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)
	_, err = svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)

	require.NoError(t, svc.Leave(ctx, "c1"))
	conn, err := st.Connections.Find(ctx, "c1")
	require.NoError(t, err)
	require.False(t, conn.Connected)

	require.NoError(t, svc.Resume(ctx, "c1"))
	conn, err = st.Connections.Find(ctx, "c1")
	require.NoError(t, err)
	require.True(t, conn.Connected)

	require.ErrorIs(t, svc.Leave(ctx, "c-unknown"), ErrNotConnected)
}

func TestRejoinSameHubResumes(t *testing.T) {
	svc, _, _ := newService(t, 0)
	ctx := context.Background()

	_, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)
	first, err := svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)
	require.NoError(t, svc.Leave(ctx, "c1"))

	again, err := svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)
	require.True(t, again.Connected)
	require.Equal(t, first.ID, again.ID)
}

func TestDeleteIsOwnerOnlyAndCascades(t *testing.T) {
	svc, st, _ := newService(t, 0)
	ctx := context.Background()

	h, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)
	_, err = svc.Join(ctx, "Gaming", "c1", "s1", "u1")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, h.ID, "intruder"), ErrNotOwner)
	require.NoError(t, svc.Delete(ctx, h.ID, "o1"))

	_, err = st.Hubs.Find(ctx, h.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Connections.Find(ctx, "c1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestToggleFlipsSettings(t *testing.T) {
	svc, st, _ := newService(t, 0)
	ctx := context.Background()

	h, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)

	on, err := svc.Toggle(ctx, h.ID, "o1", store.SettingBlockNSFW)
	require.NoError(t, err)
	require.True(t, on)

	stored, err := st.Hubs.Find(ctx, h.ID)
	require.NoError(t, err)
	require.True(t, stored.Settings.Has(store.SettingBlockNSFW))

	off, err := svc.Toggle(ctx, h.ID, "o1", store.SettingBlockNSFW)
	require.NoError(t, err)
	require.False(t, off)

	_, err = svc.Toggle(ctx, h.ID, "someone-else", store.SettingSpamFilter)
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestAntiSwearRuleMutationsInvalidate(t *testing.T) {
	svc, st, inv := newService(t, 0)
	ctx := context.Background()

	h, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)

	rule := store.AntiSwearRule{Name: "noswear", Patterns: []string{"frak*"}, Actions: []string{store.ActionBlock}}
	require.NoError(t, svc.UpsertAntiSwearRule(ctx, h.ID, "o1", rule))
	require.Equal(t, []string{h.ID}, inv.calls)

	rules, err := st.Hubs.ListAntiSwearRules(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, svc.DeleteAntiSwearRule(ctx, h.ID, "o1", rules[0].ID))
	require.Equal(t, []string{h.ID, h.ID}, inv.calls)
}

func TestBlacklistRoundTrip(t *testing.T) {
	svc, st, _ := newService(t, 0)
	ctx := context.Background()

	h, err := svc.Create(ctx, "o1", "Gaming", "", false)
	require.NoError(t, err)

	entry := store.BlacklistEntry{
		SubjectKind: store.SubjectUser, SubjectID: "u9",
		Reason: "spam", ModeratorUserID: "o1",
	}
	require.NoError(t, svc.Blacklist(ctx, h.ID, "o1", entry))

	stored, err := st.Hubs.FindBlacklistEntry(ctx, h.ID, "u9")
	require.NoError(t, err)
	require.Equal(t, "spam", stored.Reason)

	require.NoError(t, svc.Unblacklist(ctx, h.ID, "o1", "u9"))
	_, err = st.Hubs.FindBlacklistEntry(ctx, h.ID, "u9")
	require.ErrorIs(t, err, store.ErrNotFound)
}
