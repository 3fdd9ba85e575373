// Package broadcast fans admitted hub messages out to sibling channels over
// their webhooks and maintains the message-identity map that edit, delete,
// and reply correlation depend on.
//
// Ordering: one worker goroutine per active source channel serializes that
// channel's fan-outs, so two messages from the same channel reach every
// sibling in send order. Distinct sources interleave freely. Per-hub
// in-flight fan-outs are bounded; messages over the bound are dropped after
// a short wait rather than queued without limit.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

// ErrQueueFull reports that a source channel's pending fan-outs are at
// capacity and the message was dropped.
var ErrQueueFull = errors.New("broadcast queue full")

var errUnhealthy = errors.New("sibling unhealthy, skipped until probe")

// Config tunes delivery behavior. Zero values take defaults.
type Config struct {
	FanoutTimeout   time.Duration // per-sibling send deadline
	MaxConcurrency  int64         // concurrent fan-outs per hub
	Retries         int           // extra attempts per sibling on transient failures
	QueueDepth      int           // pending fan-outs per source before drops
	AdmitWait       time.Duration // wait on hub backpressure before dropping
	UnhealthyAfter  int           // consecutive failures before a sibling is probation-skipped
	ProbeInterval   time.Duration // unhealthy sibling probe cadence
	DisconnectAfter time.Duration // unhealth persistence before disconnecting
}

func (c Config) withDefaults() Config {
	if c.FanoutTimeout <= 0 {
		c.FanoutTimeout = 5 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 32
	}
	if c.AdmitWait <= 0 {
		c.AdmitWait = 2 * time.Second
	}
	if c.UnhealthyAfter <= 0 {
		c.UnhealthyAfter = 3
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = time.Minute
	}
	if c.DisconnectAfter <= 0 {
		c.DisconnectAfter = 10 * time.Minute
	}
	return c
}

type job struct {
	msg      Message
	siblings []store.Connection
}

type sourceWorker struct {
	jobs chan job
}

// Broadcaster delivers admitted messages to hub siblings.
type Broadcaster struct {
	client      transport.WebhookClient
	notifier    transport.Notifier
	provisioner *webhooks.Provisioner
	records     *RecordStore
	conns       store.ConnectionStore
	cfg         Config
	health      *healthTracker

	mu      sync.Mutex
	sources map[string]*sourceWorker
	hubSems map[string]*semaphore.Weighted

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(client transport.WebhookClient, notifier transport.Notifier, prov *webhooks.Provisioner, records *RecordStore, conns store.ConnectionStore, cfg Config) *Broadcaster {
	cfg = cfg.withDefaults()
	return &Broadcaster{
		client:      client,
		notifier:    notifier,
		provisioner: prov,
		records:     records,
		conns:       conns,
		cfg:         cfg,
		health:      newHealthTracker(cfg.UnhealthyAfter, cfg.ProbeInterval, cfg.DisconnectAfter),
		sources:     map[string]*sourceWorker{},
		hubSems:     map[string]*semaphore.Weighted{},
		done:        make(chan struct{}),
	}
}

// Dispatch queues one admitted message for fan-out and returns immediately.
// Fan-outs from the same source channel run in order.
func (b *Broadcaster) Dispatch(msg Message, siblings []store.Connection) error {
	select {
	case <-b.done:
		return errors.New("broadcaster closed")
	default:
	}

	b.mu.Lock()
	w, ok := b.sources[msg.SourceChannelID]
	if !ok {
		w = &sourceWorker{jobs: make(chan job, b.cfg.QueueDepth)}
		b.sources[msg.SourceChannelID] = w
		b.wg.Add(1)
		go b.runSource(msg.SourceChannelID, w)
	}
	var queued bool
	select {
	case w.jobs <- job{msg: msg, siblings: siblings}:
		queued = true
	default:
	}
	b.mu.Unlock()

	if !queued {
		slog.Warn("broadcast queue full, message dropped",
			"channel_id", msg.SourceChannelID, "hub_id", msg.HubID)
		return ErrQueueFull
	}
	return nil
}

// Close stops accepting work, drains queued fan-outs, and waits for the
// workers to finish.
func (b *Broadcaster) Close() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

const sourceIdleAfter = 2 * time.Minute

func (b *Broadcaster) runSource(source string, w *sourceWorker) {
	defer b.wg.Done()
	idle := time.NewTimer(sourceIdleAfter)
	defer idle.Stop()
	for {
		select {
		case j := <-w.jobs:
			b.fanOut(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(sourceIdleAfter)
		case <-idle.C:
			b.mu.Lock()
			if len(w.jobs) == 0 {
				delete(b.sources, source)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			idle.Reset(sourceIdleAfter)
		case <-b.done:
			for {
				select {
				case j := <-w.jobs:
					b.fanOut(j)
				default:
					b.mu.Lock()
					delete(b.sources, source)
					b.mu.Unlock()
					return
				}
			}
		}
	}
}

func (b *Broadcaster) hubSem(hubID string) *semaphore.Weighted {
	b.mu.Lock()
	defer b.mu.Unlock()
	sem, ok := b.hubSems[hubID]
	if !ok {
		sem = semaphore.NewWeighted(b.cfg.MaxConcurrency)
		b.hubSems[hubID] = sem
	}
	return sem
}

// fanOut performs one complete delivery. Admitted messages are never
// cancelled by the inbound event's lifetime, so this runs on a fresh
// context with only per-sibling deadlines.
func (b *Broadcaster) fanOut(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during fan-out", "channel_id", j.msg.SourceChannelID, "panic", r)
		}
	}()
	ctx := context.Background()

	sem := b.hubSem(j.msg.HubID)
	admit, cancel := context.WithTimeout(ctx, b.cfg.AdmitWait)
	err := sem.Acquire(admit, 1)
	cancel()
	if err != nil {
		slog.Warn("fan-out dropped under hub backpressure",
			"hub_id", j.msg.HubID, "channel_id", j.msg.SourceChannelID)
		return
	}
	defer sem.Release(1)

	var replyRec *Record
	if j.msg.ReplyToID != "" {
		if rec, err := b.records.FindByAny(ctx, j.msg.ReplyToID); err == nil {
			replyRec = rec
		}
	}

	results := make([]string, len(j.siblings))
	var g errgroup.Group
	for i := range j.siblings {
		conn := j.siblings[i]
		g.Go(func() error {
			id, err := b.sendToSibling(ctx, j.msg, &conn, replyRec)
			if err != nil {
				if !errors.Is(err, errUnhealthy) {
					slog.Warn("sibling delivery failed",
						"channel_id", conn.ChannelID, "hub_id", j.msg.HubID, "error", err)
				}
				return nil
			}
			results[i] = id
			return nil
		})
	}
	g.Wait()

	rec := Record{
		SourceMessageID: j.msg.SourceMessageID,
		SourceChannelID: j.msg.SourceChannelID,
		HubID:           j.msg.HubID,
		AuthorUserID:    j.msg.AuthorID,
		AttachmentURL:   j.msg.AttachmentURL,
		CreatedAt:       time.Now().UTC(),
		Broadcasts:      map[string]string{},
	}
	for i, id := range results {
		if id != "" {
			rec.Broadcasts[j.siblings[i].ChannelID] = id
		}
	}
	if err := b.records.Insert(ctx, rec); err != nil {
		slog.Error("failed to persist broadcast record",
			"source_message_id", j.msg.SourceMessageID, "error", err)
	}
}

// sendToSibling delivers one message to one sibling, provisioning a webhook
// when the connection has none and retrying transient failures.
func (b *Broadcaster) sendToSibling(ctx context.Context, msg Message, conn *store.Connection, replyRec *Record) (string, error) {
	now := time.Now()
	if !b.health.shouldTry(conn.ChannelID, now) {
		return "", errUnhealthy
	}

	url := conn.WebhookURL
	if url == "" {
		var err error
		url, err = b.provisioner.Ensure(ctx, conn)
		if err != nil {
			// Cannot deliver and cannot repair: the connection comes out
			// of the hub until someone reconnects it.
			b.disconnect(ctx, conn, "its webhook could not be re-created")
			return "", fmt.Errorf("provision webhook: %w", err)
		}
	}

	var reply *replyRef
	if replyRec != nil {
		if id, ok := replyRec.MessageIn(conn.ChannelID); ok {
			reply = &replyRef{serverID: conn.ServerID, channelID: conn.ChannelID, messageID: id}
		}
	}
	payload := renderPayload(msg, conn, reply)

	var lastErr error
	for attempt := 0; attempt <= b.cfg.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 300 * time.Millisecond)
		}
		sctx, cancel := context.WithTimeout(ctx, b.cfg.FanoutTimeout)
		id, err := b.client.SendWebhook(sctx, url, payload)
		cancel()
		if err == nil {
			b.health.success(conn.ChannelID)
			return id, nil
		}
		if errors.Is(err, transport.ErrWebhookGone) {
			// Permanent: clear the URL now, re-provision on the next
			// message through this channel.
			if derr := b.provisioner.Discard(ctx, conn.ChannelID); derr != nil {
				slog.Warn("failed to discard webhook", "channel_id", conn.ChannelID, "error", derr)
			}
			return "", err
		}
		lastErr = err
	}

	if b.health.failure(conn.ChannelID, now) == healthDisconnect {
		b.disconnect(ctx, conn, "deliveries to it kept failing")
	}
	return "", lastErr
}

func (b *Broadcaster) disconnect(ctx context.Context, conn *store.Connection, why string) {
	if err := b.conns.SetConnected(ctx, conn.ChannelID, false); err != nil {
		slog.Error("failed to disconnect unhealthy connection",
			"channel_id", conn.ChannelID, "error", err)
		return
	}
	slog.Warn("connection disconnected", "channel_id", conn.ChannelID, "hub_id", conn.HubID, "reason", why)
	if b.notifier == nil {
		return
	}
	notice := transport.Notice{
		Text: fmt.Sprintf("This channel was disconnected from its hub because %s. A moderator can reconnect it with `/connection resume`.", why),
	}
	if _, err := b.notifier.SendNotice(ctx, conn.ChannelID, notice); err != nil {
		slog.Debug("disconnect notice not delivered", "channel_id", conn.ChannelID, "error", err)
	}
}
