// Package dedup drops messages already seen within a time window, which is
// how QoS 1 redeliveries are filtered.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time, max)}
}

// WithClock replaces the time source, for tests.
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.now = now
	return d
}

// PayloadKey identifies a message by the hash of its bytes.
func PayloadKey(topic string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ShouldProcess reports whether id is new within the window and records it.
// An empty id is always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
	return true
}

// evict drops expired keys; if none expired the oldest one goes.
func (d *Deduper) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
			continue
		}
		if oldestKey == "" || exp.Before(oldest) {
			oldestKey, oldest = k, exp
		}
	}
	if len(d.seen) > d.max && oldestKey != "" {
		delete(d.seen, oldestKey)
	}
}

// Len returns the number of tracked keys.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
