// Package session holds the per-process playback context shared by the
// observer and the coordinator.
package session

import (
	"sync"
	"time"
)

// Session is owned by the daemon and passed explicitly to the components
// that need it.
type Session struct {
	mu sync.RWMutex

	navigating        bool
	navigationStarted time.Time

	initialEmitted bool

	// authoritative duration of the current track, published by the coordinator
	referenceVideoID  string
	referenceDuration float64

	// videoId for which the track-ended safety net already fired
	forcedEndVideoID string
}

// New creates an empty session
func New() *Session {
	return &Session{}
}

// BeginNavigation marks a page navigation in progress
func (s *Session) BeginNavigation(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigating = true
	s.navigationStarted = now
}

// EndNavigation clears the navigation flag
func (s *Session) EndNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigating = false
}

// Navigating reports whether a navigation is in progress and since when
func (s *Session) Navigating() (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.navigating, s.navigationStarted
}

// InitialEmitted reports whether a first snapshot has been let through
func (s *Session) InitialEmitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialEmitted
}

// MarkInitialEmitted records that the first snapshot was emitted
func (s *Session) MarkInitialEmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialEmitted = true
}

// SetReferenceDuration publishes the authoritative duration for videoID
func (s *Session) SetReferenceDuration(videoID string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referenceVideoID = videoID
	s.referenceDuration = seconds
}

// ReferenceDuration returns the authoritative duration for videoID, or 0
// when none is known for that track
func (s *Session) ReferenceDuration(videoID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if videoID == "" || videoID != s.referenceVideoID {
		return 0
	}
	return s.referenceDuration
}

// TryForceEnd returns true exactly once per videoID
func (s *Session) TryForceEnd(videoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forcedEndVideoID == videoID {
		return false
	}
	s.forcedEndVideoID = videoID
	return true
}
