package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SpamGuard enforces a per-author, per-channel message budget with a token
// bucket. Buckets refill continuously, so a user who bursts to the cap gets
// throttled rather than locked out for a full window.
type SpamGuard struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*spamBucket
	done    chan struct{}
	once    sync.Once
}

type spamBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewSpamGuard allows up to maxMessages per window from one author in one
// channel.
func NewSpamGuard(window time.Duration, maxMessages int) *SpamGuard {
	if window <= 0 {
		window = 5 * time.Second
	}
	if maxMessages <= 0 {
		maxMessages = 5
	}
	g := &SpamGuard{
		limit:   rate.Every(window / time.Duration(maxMessages)),
		burst:   maxMessages,
		buckets: map[string]*spamBucket{},
		done:    make(chan struct{}),
	}
	go g.prune()
	return g
}

// Allow consumes one token from the author's bucket.
func (g *SpamGuard) Allow(userID, channelID string) bool {
	key := userID + ":" + channelID
	now := time.Now()

	g.mu.Lock()
	b, ok := g.buckets[key]
	if !ok {
		b = &spamBucket{lim: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[key] = b
	}
	b.seen = now
	g.mu.Unlock()

	return b.lim.Allow()
}

// prune drops buckets idle long enough to have fully refilled.
func (g *SpamGuard) prune() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-g.done:
			return
		case now := <-tick.C:
			cutoff := now.Add(-5 * time.Minute)
			g.mu.Lock()
			for key, b := range g.buckets {
				if b.seen.Before(cutoff) {
					delete(g.buckets, key)
				}
			}
			g.mu.Unlock()
		}
	}
}

func (g *SpamGuard) Close() {
	g.once.Do(func() { close(g.done) })
}
