package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/prompt"
	"docrelay/internal/redis"
)

// ErrBusy is returned when a session already has an upload in flight.
var ErrBusy = errors.New("an upload is already in progress for this session")

// RelayFunc performs one relay and always yields a terminal result.
type RelayFunc func(ctx context.Context, job *models.UploadJob) *models.RelayResult

// Manager keeps the per-session prompt and upload state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	lock     *uploadLock
	now      func() time.Time
}

// NewManager builds a workspace manager. rdb may be nil; lockTTL should
// exceed the relay timeout so a crashed holder eventually frees the session.
func NewManager(rdb *redis.Client, lockTTL time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*sessionState),
		lock:     newUploadLock(rdb, lockTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Editor returns the prompt editor for the session, creating it on first use.
func (m *Manager) Editor(sessionID string) *prompt.Editor {
	return m.ensure(sessionID).editor
}

// EffectivePrompt is the prompt that a submit would attach right now.
func (m *Manager) EffectivePrompt(sessionID string) string {
	return m.ensure(sessionID).getEffective()
}

func (m *Manager) Snapshot(sessionID string) Snapshot {
	return m.ensure(sessionID).snapshot()
}

// Run executes relay for the session's single upload slot. The slot is freed
// and the result recorded even if relay panics.
func (m *Manager) Run(ctx context.Context, sessionID string, job *models.UploadJob, relay RelayFunc) (result *models.RelayResult, err error) {
	if job == nil {
		return nil, fmt.Errorf("run upload: job required")
	}
	st := m.ensure(sessionID)
	if !st.begin(job.File, m.now()) {
		return nil, ErrBusy
	}
	if !m.lock.acquire(ctx, sessionID) {
		st.abort()
		return nil, ErrBusy
	}
	defer func() {
		m.lock.release(context.WithoutCancel(ctx), sessionID)
		if r := recover(); r != nil {
			st.finish(models.FailureResult("internal error while relaying the file", fmt.Errorf("relay panic: %v", r)), m.now())
			panic(r)
		}
		st.finish(result, m.now())
	}()

	if job.StartedAt.IsZero() {
		job.StartedAt = m.now()
	}
	result = relay(ctx, job)
	if result == nil {
		result = models.FailureResult("relay produced no result", nil)
	}
	return result, nil
}

// Reset returns the session to idle ("new upload"). Refused while submitting.
func (m *Manager) Reset(sessionID string) error {
	if !m.ensure(sessionID).reset() {
		return ErrBusy
	}
	return nil
}

// Purge drops everything held for the session.
func (m *Manager) Purge(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) ensure(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = newSessionState()
		m.sessions[sessionID] = st
	}
	return st
}
