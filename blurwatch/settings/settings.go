// Package settings models the detection settings blurwatch consults on
// every mutation. The settings themselves are owned elsewhere (a SQLite
// table, an HTTP call); blurwatch only asks three questions of them.
package settings

import "sync/atomic"

// Settings is the externally owned settings object.
type Settings interface {
	ShouldDetect() bool
	ShouldDetectImages() bool
	ShouldDetectVideos() bool
}

// Flags is the plain value form of Settings, as stored and transported.
type Flags struct {
	Detect       bool `json:"detect" yaml:"detect"`
	DetectImages bool `json:"detect_images" yaml:"detect_images"`
	DetectVideos bool `json:"detect_videos" yaml:"detect_videos"`
}

// AllOn enables everything.
var AllOn = Flags{Detect: true, DetectImages: true, DetectVideos: true}

func (f Flags) ShouldDetect() bool { return f.Detect }

// ShouldDetectImages is false whenever detection is globally off.
func (f Flags) ShouldDetectImages() bool { return f.Detect && f.DetectImages }

// ShouldDetectVideos is false whenever detection is globally off.
func (f Flags) ShouldDetectVideos() bool { return f.Detect && f.DetectVideos }

// Snapshot is either NotYetLoaded or Loaded(Settings). Before settings
// arrive everything is considered enabled.
type Snapshot struct {
	s Settings
}

// NotYetLoaded is the snapshot before any settingsLoaded event.
func NotYetLoaded() Snapshot { return Snapshot{} }

// Loaded wraps s. A nil s yields NotYetLoaded.
func Loaded(s Settings) Snapshot { return Snapshot{s: s} }

// IsLoaded reports whether settings have arrived.
func (s Snapshot) IsLoaded() bool { return s.s != nil }

// Settings returns the wrapped settings, nil when not yet loaded.
func (s Snapshot) Settings() Settings { return s.s }

func (s Snapshot) DetectEnabled() bool {
	if s.s == nil {
		return true
	}
	return s.s.ShouldDetect()
}

func (s Snapshot) ImagesEnabled() bool {
	if s.s == nil {
		return true
	}
	return s.s.ShouldDetectImages()
}

func (s Snapshot) VideosEnabled() bool {
	if s.s == nil {
		return true
	}
	return s.s.ShouldDetectVideos()
}

// Store is a live Settings shared by every page. Replace swaps the whole
// value (a reload from storage); SetDetect flips the global switch (the
// on/off toggle). Readers always see the latest value, so a snapshot
// holding a Store re-evaluates on each query.
type Store struct {
	v atomic.Pointer[Flags]
}

// NewStore returns a Store holding f.
func NewStore(f Flags) *Store {
	s := &Store{}
	s.v.Store(&f)
	return s
}

// Flags returns the current value.
func (s *Store) Flags() Flags { return *s.v.Load() }

// Replace swaps in f.
func (s *Store) Replace(f Flags) { s.v.Store(&f) }

// SetDetect sets the global switch, keeping the per-kind flags.
func (s *Store) SetDetect(on bool) Flags {
	for {
		old := s.v.Load()
		next := *old
		next.Detect = on
		if s.v.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Toggle flips the global switch and returns the new value.
func (s *Store) Toggle() Flags {
	for {
		old := s.v.Load()
		next := *old
		next.Detect = !old.Detect
		if s.v.CompareAndSwap(old, &next) {
			return next
		}
	}
}

func (s *Store) ShouldDetect() bool       { return s.Flags().ShouldDetect() }
func (s *Store) ShouldDetectImages() bool { return s.Flags().ShouldDetectImages() }
func (s *Store) ShouldDetectVideos() bool { return s.Flags().ShouldDetectVideos() }
