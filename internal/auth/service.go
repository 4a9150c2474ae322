package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/observability"
	"docrelay/internal/redis"

	"github.com/google/uuid"
)

const (
	adminUsername = "admin"
	adminPassword = "password123"

	defaultInactivity = 20 * time.Minute
	defaultCheckEvery = time.Minute
)

var (
	ErrInvalidCredentials = errors.New("Invalid username or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired due to inactivity")
)

// EndFunc is called once for every session that leaves the store.
type EndFunc func(session *models.Session, reason string)

// Service owns the authenticated sessions. Sessions live in memory and,
// when a redis client is supplied, are mirrored so sibling replicas share them.
type Service struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session
	watchers   map[string][]chan models.SessionEvent
	onEnd      []EndFunc
	inactivity time.Duration
	now        func() time.Time

	mirror  *sessionMirror
	metrics *observability.Metrics
}

// NewService constructs the session gate. rdb and metrics may be nil.
func NewService(inactivity time.Duration, rdb *redis.Client, metrics *observability.Metrics) *Service {
	if inactivity <= 0 {
		inactivity = defaultInactivity
	}
	s := &Service{
		sessions:   make(map[string]*models.Session),
		watchers:   make(map[string][]chan models.SessionEvent),
		inactivity: inactivity,
		now:        func() time.Time { return time.Now().UTC() },
		metrics:    metrics,
	}
	if rdb != nil {
		s.mirror = newSessionMirror(rdb, inactivity)
	}
	return s
}

// InactivityTimeout reports the idle window after which a session ends.
func (s *Service) InactivityTimeout() time.Duration {
	return s.inactivity
}

// OnEnd registers a listener for logout and expiry.
func (s *Service) OnEnd(fn EndFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onEnd = append(s.onEnd, fn)
	s.mu.Unlock()
}

// Login checks the fixed credential pair and opens a new session.
func (s *Service) Login(ctx context.Context, username, password string) (*models.Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(adminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(adminPassword)) == 1
	if !userOK || !passOK {
		s.metrics.LoginFailed()
		return nil, ErrInvalidCredentials
	}
	now := s.now()
	session := &models.Session{
		ID:             uuid.NewString(),
		UserID:         "1",
		DisplayName:    "Administrator",
		Email:          "admin@example.com",
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.mirror.store(ctx, session)
	s.metrics.SessionStarted()
	return clone(session), nil
}

// Logout ends the session. Unknown ids are ignored.
func (s *Service) Logout(ctx context.Context, id string) error {
	s.end(ctx, id, models.EndReasonLogout, true)
	return nil
}

// Validate returns the live session for id. A session that has been idle past
// the inactivity window is ended here even if the janitor has not run yet.
func (s *Service) Validate(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	session, ok := s.sessions[id]
	var idle time.Duration
	if ok {
		idle = session.IdleFor(s.now())
	}
	s.mu.Unlock()

	if !ok {
		adopted, err := s.adopt(ctx, id)
		if err != nil {
			return nil, err
		}
		return adopted, nil
	}
	if idle > s.inactivity && !s.activeElsewhere(ctx, id) {
		s.end(ctx, id, models.EndReasonExpired, true)
		return nil, ErrSessionExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(session), nil
}

// Touch records user activity and resets the idle clock.
func (s *Service) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	var snapshot *models.Session
	if ok {
		session.LastActivityAt = s.now()
		snapshot = clone(session)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.mirror.store(ctx, snapshot)
	return nil
}

// Watch streams lifecycle events for one session. The channel is closed after
// the session ends or when cancel is called.
func (s *Service) Watch(id string) (<-chan models.SessionEvent, func()) {
	ch := make(chan models.SessionEvent, 1)
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		ch <- models.SessionEvent{Type: models.EventSessionEnded, SessionID: id, Reason: models.EndReasonExpired, At: s.now()}
		close(ch)
		return ch, func() {}
	}
	s.watchers[id] = append(s.watchers[id], ch)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.watchers[id]
			for i, w := range list {
				if w == ch {
					s.watchers[id] = append(list[:i], list[i+1:]...)
					close(ch)
					break
				}
			}
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
		})
	}
	return ch, cancel
}

// StartJanitor periodically ends sessions idle past the inactivity window.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultCheckEvery
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireInactive(ctx)
			}
		}
	}()
}

// StartSync subscribes to session invalidations published by other replicas.
func (s *Service) StartSync(ctx context.Context) error {
	return s.mirror.listen(ctx, func(id, reason string) {
		s.end(ctx, id, reason, false)
	})
}

// ActiveCount reports the number of open sessions.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) expireInactive(ctx context.Context) {
	now := s.now()
	var expired []string
	s.mu.Lock()
	for id, session := range s.sessions {
		if session.IdleFor(now) > s.inactivity {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		if s.activeElsewhere(ctx, id) {
			continue
		}
		s.end(ctx, id, models.EndReasonExpired, true)
	}
}

// activeElsewhere checks the mirror before an expiry. Activity recorded by
// another replica moves the local idle clock forward and keeps the session.
func (s *Service) activeElsewhere(ctx context.Context, id string) bool {
	remote, ok := s.mirror.load(ctx, id)
	if !ok || remote.IdleFor(s.now()) > s.inactivity {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.sessions[id]
	if !ok {
		return false
	}
	if remote.LastActivityAt.After(local.LastActivityAt) {
		local.LastActivityAt = remote.LastActivityAt
	}
	return true
}

// end removes the session, notifies watchers and listeners, and optionally
// propagates the invalidation to other replicas.
func (s *Service) end(ctx context.Context, id, reason string, propagate bool) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		if propagate {
			s.mirror.remove(ctx, id, reason)
		}
		return
	}
	delete(s.sessions, id)
	watchers := s.watchers[id]
	delete(s.watchers, id)
	listeners := append([]EndFunc(nil), s.onEnd...)
	s.mu.Unlock()

	event := models.SessionEvent{Type: models.EventSessionEnded, SessionID: id, Reason: reason, At: s.now()}
	for _, ch := range watchers {
		ch <- event
		close(ch)
	}
	if propagate {
		s.mirror.remove(ctx, id, reason)
	}
	s.metrics.SessionEnded(reason)
	for _, fn := range listeners {
		fn(clone(session), reason)
	}
}

// adopt pulls a session created on another replica into the local store.
func (s *Service) adopt(ctx context.Context, id string) (*models.Session, error) {
	session, ok := s.mirror.load(ctx, id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.IdleFor(s.now()) > s.inactivity {
		s.mirror.remove(ctx, id, models.EndReasonExpired)
		return nil, ErrSessionExpired
	}
	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		session = existing
	} else {
		s.sessions[id] = session
		s.metrics.SessionStarted()
	}
	s.mu.Unlock()
	return clone(session), nil
}

func clone(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	cp := *session
	return &cp
}
