package dockertmux

import (
	"hash/fnv"
	"sync"
	"time"
)

// TrackedState is the monitor-visible state of a detached session.
type TrackedState string

const (
	TrackedRunning       TrackedState = "running"
	TrackedAwaitingInput TrackedState = "awaiting_input"
)

// Tracked holds per-session monitoring state.
type Tracked struct {
	ID        string
	Agent     string
	CreatedAt time.Time
	State     TrackedState

	lastOutputHash uint64
	hasHash        bool
	stalePolls     int

	// DetectedQuestion is set while the session awaits input.
	DetectedQuestion string
	LastActivity     time.Time
}

// StalenessUpdate summarizes one staleness poll.
type StalenessUpdate struct {
	StaleCount           int
	IsStale              bool
	State                TrackedState
	ClearedAwaitingInput bool
}

// Tracker is the in-memory registry of live detached sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Tracked
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Tracked)}
}

// Add registers a freshly started session.
func (t *Tracker) Add(id, agentType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.sessions[id] = &Tracked{
		ID:           id,
		Agent:        agentType,
		CreatedAt:    now,
		State:        TrackedRunning,
		LastActivity: now,
	}
}

// Remove drops a session from tracking.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Get returns a copy of the tracked session, if present.
func (t *Tracker) Get(id string) (Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return Tracked{}, false
	}
	return *s, true
}

// List returns copies of all tracked sessions.
func (t *Tracker) List() []Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Tracked, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}

// MarkAwaitingInput flags a session as waiting for a human, recording the
// detected question.
func (t *Tracker) MarkAwaitingInput(id, question string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok && s.State != TrackedAwaitingInput {
		s.State = TrackedAwaitingInput
		s.DetectedQuestion = question
	}
}

// UpdateStaleness records an output observation. Consecutive identical
// captures bump the stale counter; fresh output resets it and clears any
// awaiting-input flag.
func (t *Tracker) UpdateStaleness(id, output string) (StalenessUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return StalenessUpdate{}, false
	}

	h := hashOutput(output)
	cleared := false
	isStale := s.hasHash && s.lastOutputHash == h
	if isStale {
		s.stalePolls++
	} else {
		s.stalePolls = 0
		s.lastOutputHash = h
		s.hasHash = true
		s.LastActivity = time.Now()
		if s.State == TrackedAwaitingInput {
			s.State = TrackedRunning
			s.DetectedQuestion = ""
			cleared = true
		}
	}
	return StalenessUpdate{
		StaleCount:           s.stalePolls,
		IsStale:              isStale,
		State:                s.State,
		ClearedAwaitingInput: cleared,
	}, true
}

func hashOutput(output string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(output))
	return h.Sum64()
}
