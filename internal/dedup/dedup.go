// Package dedup decides whether a playback snapshot differs enough from the
// last emitted one to be worth propagating.
package dedup

import (
	"math"
	"time"

	"github.com/genricoloni/playsync/internal/domain"
	"github.com/mitchellh/hashstructure/v2"
)

const (
	// DurationThreshold is the smallest duration change (seconds) that counts
	DurationThreshold = 0.1
	// PositionThreshold is the smallest position jump (seconds) that counts
	PositionThreshold = 1.5
	// Heartbeat forces an emission during long stable playback
	Heartbeat = 2000 * time.Millisecond
	// Debounce coalesces back-to-back emissions
	Debounce = 30 * time.Millisecond
)

// Differs reports whether next is materially different from prev
func Differs(prev, next domain.PlaybackSnapshot) bool {
	if prev.PlaybackState != next.PlaybackState {
		return true
	}
	if math.Abs(next.Duration-prev.Duration) > DurationThreshold {
		return true
	}
	if math.Abs(next.Position-prev.Position) > PositionThreshold {
		return true
	}
	return !SameMetadata(prev.Metadata, next.Metadata)
}

// SameMetadata compares two metadata values structurally
func SameMetadata(a, b *domain.TrackMetadata) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.VideoID != b.VideoID {
		return false
	}
	return Fingerprint(a) == Fingerprint(b)
}

// Fingerprint hashes every metadata field. Hash failures yield 0, which only
// makes two failing values compare equal on their video id alone.
func Fingerprint(m *domain.TrackMetadata) uint64 {
	if m == nil {
		return 0
	}
	h, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return h
}

// Deduplicator remembers when it last let a snapshot through
type Deduplicator struct {
	lastEmit time.Time
}

// New creates a Deduplicator that has never emitted
func New() *Deduplicator {
	return &Deduplicator{}
}

// ShouldEmit reports whether next must propagate given the previously
// emitted snapshot (nil when nothing was emitted yet)
func (d *Deduplicator) ShouldEmit(prev *domain.PlaybackSnapshot, next domain.PlaybackSnapshot, now time.Time) bool {
	if prev == nil || d.lastEmit.IsZero() {
		return true
	}
	if now.Sub(d.lastEmit) >= Heartbeat {
		return true
	}
	return Differs(*prev, next)
}

// MarkEmitted records an emission at now
func (d *Deduplicator) MarkEmitted(now time.Time) {
	d.lastEmit = now
}

// LastEmit returns the time of the last emission
func (d *Deduplicator) LastEmit() time.Time {
	return d.lastEmit
}
