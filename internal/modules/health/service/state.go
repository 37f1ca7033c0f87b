package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State — флаги готовности и состояние ценовых потоков для /healthz.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	mu      sync.RWMutex
	streams map[string]bool // "binance/spot" -> подключён

	lastTickUnix atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now(), streams: make(map[string]bool)}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetStream(key string, up bool) {
	s.mu.Lock()
	s.streams[key] = up
	s.mu.Unlock()
}

// StreamsUp — хотя бы один поток подключён.
func (s *State) StreamsUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, up := range s.streams {
		if up {
			return true
		}
	}
	return false
}

// Streams — отсортированные ключи подключённых потоков.
func (s *State) Streams() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.streams))
	for k, up := range s.streams {
		if up {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }

func (s *State) LastTick() time.Time {
	if u := s.lastTickUnix.Load(); u != 0 {
		return time.Unix(u, 0)
	}
	return time.Time{}
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
