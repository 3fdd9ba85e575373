package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Local is a process-local TTL cache. It is the first tier in front of the
// shared Redis tier; entries expire lazily on read and a janitor sweeps the
// map so unbound-channel chatter cannot grow it without bound.
type Local[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewLocal[V any](ttl time.Duration) *Local[V] {
	l := &Local[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *Local[V]) janitor() {
	interval := l.ttl
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.mu.Lock()
			for k, e := range l.entries {
				if now.After(e.expires) {
					delete(l.entries, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Local[V]) Get(key string) (V, bool) {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (l *Local[V]) Set(key string, v V) {
	l.mu.Lock()
	l.entries[key] = entry[V]{value: v, expires: time.Now().Add(l.ttl)}
	l.mu.Unlock()
}

func (l *Local[V]) Delete(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

func (l *Local[V]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close stops the janitor. Safe to call more than once.
func (l *Local[V]) Close() {
	l.once.Do(func() { close(l.stop) })
}
