package workspace

import (
	"sync"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/prompt"
)

// State is the upload lifecycle shown on the page.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Snapshot is a read-only copy of one session's upload state.
type Snapshot struct {
	State      State               `json:"state"`
	File       *models.FileInfo    `json:"file,omitempty"`
	StartedAt  time.Time           `json:"started_at,omitempty"`
	FinishedAt time.Time           `json:"finished_at,omitempty"`
	Result     *models.RelayResult `json:"-"`
}

type sessionState struct {
	mu         sync.RWMutex
	editor     *prompt.Editor
	effective  string
	state      State
	file       *models.FileInfo
	startedAt  time.Time
	finishedAt time.Time
	result     *models.RelayResult
}

func newSessionState() *sessionState {
	s := &sessionState{editor: prompt.NewEditor(), state: StateIdle}
	s.editor.Subscribe(s.setEffective)
	return s
}

func (s *sessionState) setEffective(effective string) {
	s.mu.Lock()
	s.effective = effective
	s.mu.Unlock()
}

func (s *sessionState) getEffective() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective
}

// begin moves idle/finished state to submitting. It reports false when an
// upload is already running.
func (s *sessionState) begin(file models.FileInfo, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return false
	}
	s.state = StateSubmitting
	s.file = &file
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.result = nil
	return true
}

func (s *sessionState) finish(result *models.RelayResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubmitting {
		return
	}
	s.result = result
	s.finishedAt = now
	if result != nil && result.Kind != models.ResultFailure {
		s.state = StateSucceeded
	} else {
		s.state = StateFailed
	}
}

// abort undoes a begin that could not take the shared lock.
func (s *sessionState) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		s.state = StateIdle
		s.file = nil
		s.startedAt = time.Time{}
	}
}

func (s *sessionState) reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSubmitting {
		return false
	}
	s.state = StateIdle
	s.file = nil
	s.result = nil
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
	return true
}

func (s *sessionState) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{State: s.state, StartedAt: s.startedAt, FinishedAt: s.finishedAt, Result: s.result}
	if s.file != nil {
		f := *s.file
		snap.File = &f
	}
	return snap
}
