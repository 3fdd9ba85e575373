package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/interchat-hq/interchat/internal/admission"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/transport"
)

func newSessionFixture(t *testing.T, opts SessionOptions) (*callFixture, *Session) {
	t.Helper()
	fx := newCallFixture(t, Options{})
	if opts.BlockedResponses == nil {
		opts.BlockedResponses = func() []string { return []string{"*beep* that stays here"} }
	}
	s := NewSession(fx.dir, fx.fr, fx.fr, fx.prov, opts)
	return fx, s
}

// startCall pairs c1/s1/u1 with c2/s2/u2 and returns the call id.
func startCall(t *testing.T, fx *callFixture) string {
	t.Helper()
	ctx := context.Background()
	_, err := fx.mm.Initiate(ctx, "c1", "s1", "u1")
	require.NoError(t, err)
	res, err := fx.mm.Initiate(ctx, "c2", "s2", "u2")
	require.NoError(t, err)
	require.Equal(t, OutcomeConnected, res.Outcome)
	return res.CallID
}

func callMessage(id, channelID, authorID, text string) relay.MessageSnapshot {
	return relay.MessageSnapshot{
		MessageID:  id,
		ChannelID:  channelID,
		ServerID:   "s-" + channelID,
		AuthorID:   authorID,
		AuthorName: "Pat",
		Content:    text,
		Timestamp:  time.Now(),
	}
}

func TestSessionRelaysToPeerOnly(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	callID := startCall(t, fx)
	ctx := context.Background()

	handled, err := s.OnMessage(ctx, callMessage("msg1", "c1", "u1", "hi"))
	require.NoError(t, err)
	require.True(t, handled)

	// Exactly one dispatch, to the peer's webhook, never back to c1.
	peerSends := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, peerSends, 1)
	require.Equal(t, "hi", peerSends[0].payload.Content)
	require.Equal(t, "Pat", peerSends[0].payload.Username)
	require.Empty(t, fx.fr.sentTo(hookURL("c1", 1)))

	entries, err := fx.dir.Messages(ctx, callID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hi", entries[0].Content)
	require.NotEmpty(t, entries[0].MirroredID)
}

func TestSessionIgnoresChannelsOutsideCalls(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	startCall(t, fx)

	handled, err := s.OnMessage(context.Background(), callMessage("msg1", "c9", "u9", "hello?"))
	require.NoError(t, err)
	require.False(t, handled)
	require.Empty(t, fx.fr.sends)
}

func TestSessionGrowsUserSet(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	callID := startCall(t, fx)
	ctx := context.Background()

	_, err := s.OnMessage(ctx, callMessage("msg1", "c1", "u1", "one"))
	require.NoError(t, err)
	_, err = s.OnMessage(ctx, callMessage("msg2", "c1", "u7", "two"))
	require.NoError(t, err)
	_, err = s.OnMessage(ctx, callMessage("msg3", "c1", "u7", "three"))
	require.NoError(t, err)

	ac, err := fx.dir.Find(ctx, callID)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u7"}, ac.ParticipantFor("c1").Users)
	require.Equal(t, []string{"u2"}, ac.ParticipantFor("c2").Users)
}

func TestSessionBlocksBareLinks(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	callID := startCall(t, fx)
	ctx := context.Background()

	handled, err := s.OnMessage(ctx, callMessage("msg1", "c1", "u1", "join https://spam.example/now"))
	require.NoError(t, err)
	require.True(t, handled)

	// The peer sees a canned line instead of the message.
	peerSends := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, peerSends, 1)
	require.Equal(t, "*beep* that stays here", peerSends[0].payload.Content)

	entries, err := fx.dir.Messages(ctx, callID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "[BLOCKED]", entries[0].Content)
}

func TestSessionAllowsGifLinks(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	startCall(t, fx)

	msg := "look https://media.tenor.com/abc.gif"
	_, err := s.OnMessage(context.Background(), callMessage("msg1", "c1", "u1", msg))
	require.NoError(t, err)

	peerSends := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, peerSends, 1)
	require.Equal(t, msg, peerSends[0].payload.Content)
}

func TestSessionSpamBudget(t *testing.T) {
	guard := admission.NewSpamGuard(time.Second, 2)
	defer guard.Close()
	fx, s := newSessionFixture(t, SessionOptions{Spam: guard})
	callID := startCall(t, fx)
	ctx := context.Background()

	for i, id := range []string{"msg1", "msg2", "msg3"} {
		_, err := s.OnMessage(ctx, callMessage(id, "c1", "u1", "hey"))
		require.NoError(t, err, "message %d", i)
	}

	// Two delivered, the third replaced by the canned response.
	peerSends := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, peerSends, 3)
	require.Equal(t, "*beep* that stays here", peerSends[2].payload.Content)

	entries, err := fx.dir.Messages(ctx, callID)
	require.NoError(t, err)
	require.Equal(t, "[BLOCKED]", entries[2].Content)
}

func TestSessionReplyQuote(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	startCall(t, fx)
	ctx := context.Background()

	_, err := s.OnMessage(ctx, callMessage("msg1", "c1", "u1", "what's your favourite map?"))
	require.NoError(t, err)
	mirrored := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, mirrored, 1)

	// The peer replies to the mirrored copy in their channel.
	reply := callMessage("msg2", "c2", "u2", "dust2, obviously")
	reply.ReplyToID = "m1"
	_, err = s.OnMessage(ctx, reply)
	require.NoError(t, err)

	back := fx.fr.sentTo(hookURL("c1", 1))
	require.Len(t, back, 1)
	require.Contains(t, back[0].payload.Content, "> **Pat**: what's your favourite map?")
	require.Contains(t, back[0].payload.Content, "dust2, obviously")
}

func TestSessionAttachmentAppended(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	startCall(t, fx)

	msg := callMessage("msg1", "c1", "u1", "look at this")
	msg.Attachments = []relay.Attachment{{URL: "https://cdn.example/cat.png", ContentType: "image/png"}}
	_, err := s.OnMessage(context.Background(), msg)
	require.NoError(t, err)

	peerSends := fx.fr.sentTo(hookURL("c2", 1))
	require.Len(t, peerSends, 1)
	require.Equal(t, "look at this\nhttps://cdn.example/cat.png", peerSends[0].payload.Content)
}

func TestSessionRecreatesGoneWebhook(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	callID := startCall(t, fx)
	ctx := context.Background()

	fx.fr.failNext(hookURL("c2", 1), transport.ErrWebhookGone)

	handled, err := s.OnMessage(ctx, callMessage("msg1", "c1", "u1", "still there?"))
	require.NoError(t, err)
	require.True(t, handled)

	// The relay minted a replacement webhook and delivered through it.
	fresh := fx.fr.sentTo(hookURL("c2", 2))
	require.Len(t, fresh, 1)
	require.Equal(t, "still there?", fresh[0].payload.Content)

	ac, err := fx.dir.Find(ctx, callID)
	require.NoError(t, err)
	require.Equal(t, hookURL("c2", 2), ac.ParticipantFor("c2").WebhookURL)
}

func TestTypingCoalesced(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{TypingRefractory: time.Minute})
	startCall(t, fx)
	ctx := context.Background()

	for range 3 {
		s.OnTyping(ctx, "c1")
	}
	require.Equal(t, []string{"c2"}, fx.fr.typing)

	// The peer's own typing has an independent budget.
	s.OnTyping(ctx, "c2")
	require.Equal(t, []string{"c2", "c1"}, fx.fr.typing)
}

func TestTypingOutsideCall(t *testing.T) {
	fx, s := newSessionFixture(t, SessionOptions{})
	s.OnTyping(context.Background(), "c9")
	require.Empty(t, fx.fr.typing)
}
