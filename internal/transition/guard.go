// Package transition hides the stale position the media element keeps
// reporting for a moment after a track boundary.
package transition

import "github.com/genricoloni/playsync/internal/domain"

// State of the guard
type State int

const (
	Stable State = iota
	Transitioning
)

func (s State) String() string {
	if s == Transitioning {
		return "TRANSITIONING"
	}
	return "STABLE"
}

// resetThreshold is the position (seconds) below which the element is
// considered to have genuinely restarted
const resetThreshold = 1.0

// Guard is a two-state machine fed with every accepted snapshot
type Guard struct {
	state       State
	lastVideoID string
	seen        bool
}

// New returns a guard in the Stable state
func New() *Guard {
	return &Guard{}
}

// State returns the current state
func (g *Guard) State() State {
	return g.state
}

// Apply advances the machine with snap and returns the snapshot to emit
func (g *Guard) Apply(snap domain.PlaybackSnapshot) domain.PlaybackSnapshot {
	videoID := snap.VideoID()

	if g.seen && videoID != g.lastVideoID {
		g.state = Transitioning
	}
	g.lastVideoID = videoID
	g.seen = true

	if g.state != Transitioning {
		return snap
	}

	if snap.Position < resetThreshold {
		g.state = Stable
		return snap
	}

	snap.Position = 0
	return snap
}
