// internal/dedup/dedup.go
package dedup

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// fingerprintRunes is how much of the payload participates in the
// fingerprint. Duplicate deliveries from the transport carry identical
// text, so a truncated prefix is enough to catch them.
const fingerprintRunes = 50

// Deduplicator tracks fingerprints of in-flight requests so a duplicate
// delivery of the same message is rejected before it reaches admission.
// Entries are removed deterministically by the caller (always in a deferred
// cleanup); Sweep is a correctness backstop, not the primary mechanism.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]time.Time
}

func New() *Deduplicator {
	return &Deduplicator{
		inflight: make(map[string]time.Time),
	}
}

// Fingerprint returns a stable hash over the conversation, sender, and the
// first fingerprintRunes runes of the payload. Truncation operates on runes
// so a multi-byte character at the boundary cannot destabilize the hash.
func Fingerprint(conversation, sender, payload string) string {
	r := []rune(payload)
	if len(r) > fingerprintRunes {
		r = r[:fingerprintRunes]
	}
	h := fnv.New64a()
	h.Write([]byte(conversation))
	h.Write([]byte{0})
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(string(r)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// IsDuplicate reports whether the fingerprint is already in flight.
func (d *Deduplicator) IsDuplicate(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[fp]
	return ok
}

// Add records the fingerprint as in flight.
func (d *Deduplicator) Add(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inflight[fp] = time.Now()
}

// AddIfAbsent records the fingerprint as in flight unless it already is,
// reporting whether it was added. Check and insert happen under one lock
// hold so two concurrent deliveries of the same message cannot both claim
// the fingerprint.
func (d *Deduplicator) AddIfAbsent(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[fp]; ok {
		return false
	}
	d.inflight[fp] = time.Now()
	return true
}

// Remove drops the fingerprint. Removing an absent fingerprint is a no-op,
// so cleanup paths can call it unconditionally.
func (d *Deduplicator) Remove(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, fp)
}

// Sweep removes entries older than maxAge and returns how many were
// dropped. A swept entry means some code path skipped its Remove.
func (d *Deduplicator) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for fp, at := range d.inflight {
		if at.Before(cutoff) {
			delete(d.inflight, fp)
			removed++
		}
	}
	return removed
}

// Len returns the number of in-flight fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
