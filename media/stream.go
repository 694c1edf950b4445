package media

import "sync"

// trackSet is the shared Stream implementation for both local capture
// streams and per-connection remote streams.
type trackSet struct {
	mu     sync.RWMutex
	tracks []Track
}

func (s *trackSet) append(t Track) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *trackSet) Tracks() []Track {
	s.mu.RLock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	s.mu.RUnlock()
	return out
}

func (s *trackSet) AudioTracks() []Track { return s.kind(KindAudio) }
func (s *trackSet) VideoTracks() []Track { return s.kind(KindVideo) }

func (s *trackSet) kind(k Kind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

func (s *trackSet) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// enabledFlag implements the Enabled/SetEnabled part of Track. The flag is
// purely local state; it never reaches the transport.
type enabledFlag struct {
	mu      sync.Mutex
	enabled bool
}

func (f *enabledFlag) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *enabledFlag) SetEnabled(v bool) {
	f.mu.Lock()
	f.enabled = v
	f.mu.Unlock()
}
