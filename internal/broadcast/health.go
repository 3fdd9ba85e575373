package broadcast

import (
	"sync"
	"time"
)

type healthAction int

const (
	healthNone healthAction = iota
	healthDisconnect
)

type siblingState struct {
	consecutive int
	streakStart time.Time
	lastAttempt time.Time
}

// healthTracker records per-sibling delivery outcomes. A sibling that keeps
// failing is skipped between probes; one that stays unhealthy past the
// disconnect window is disconnected from its hub.
type healthTracker struct {
	unhealthyAfter  int
	probeInterval   time.Duration
	disconnectAfter time.Duration

	mu     sync.Mutex
	states map[string]*siblingState
}

func newHealthTracker(unhealthyAfter int, probeInterval, disconnectAfter time.Duration) *healthTracker {
	return &healthTracker{
		unhealthyAfter:  unhealthyAfter,
		probeInterval:   probeInterval,
		disconnectAfter: disconnectAfter,
		states:          map[string]*siblingState{},
	}
}

// shouldTry reports whether a send to the sibling is worth attempting now.
// Unhealthy siblings get one probe per interval instead of the full retry
// cost on every message.
func (h *healthTracker) shouldTry(channelID string, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[channelID]
	if !ok || s.consecutive < h.unhealthyAfter {
		return true
	}
	if now.Sub(s.lastAttempt) >= h.probeInterval {
		s.lastAttempt = now
		return true
	}
	return false
}

func (h *healthTracker) success(channelID string) {
	h.mu.Lock()
	delete(h.states, channelID)
	h.mu.Unlock()
}

// failure records one exhausted delivery and decides whether the sibling
// has been unhealthy long enough to disconnect.
func (h *healthTracker) failure(channelID string, now time.Time) healthAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[channelID]
	if !ok {
		s = &siblingState{streakStart: now}
		h.states[channelID] = s
	}
	s.consecutive++
	s.lastAttempt = now
	if s.consecutive >= h.unhealthyAfter && now.Sub(s.streakStart) >= h.disconnectAfter {
		delete(h.states, channelID)
		return healthDisconnect
	}
	return healthNone
}
