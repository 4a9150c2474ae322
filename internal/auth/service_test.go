package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docrelay/internal/models"
	"docrelay/internal/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(20*time.Minute, nil, nil)
	svc.now = clock.Now
	return svc, clock
}

func TestLoginAcceptsOnlyFixedCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct{ user, pass string }{
		{"admin", "wrong"},
		{"Admin", "password123"},
		{"", ""},
		{"root", "password123"},
	}
	for _, tc := range cases {
		if _, err := svc.Login(ctx, tc.user, tc.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q,%q) err=%v, want ErrInvalidCredentials", tc.user, tc.pass, err)
		}
	}
	if ErrInvalidCredentials.Error() != "Invalid username or password" {
		t.Fatalf("unexpected credential error text %q", ErrInvalidCredentials)
	}

	session, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if session.UserID != "1" || session.DisplayName != "Administrator" || session.Email != "admin@example.com" {
		t.Fatalf("unexpected profile: %+v", session)
	}
	other, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("second Login error: %v", err)
	}
	if other.ID == session.ID {
		t.Fatalf("expected distinct session ids")
	}
}

func TestValidateExpiresIdleSession(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	session, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	clock.Advance(19 * time.Minute)
	if _, err := svc.Validate(ctx, session.ID); err != nil {
		t.Fatalf("session should still be valid: %v", err)
	}
	if err := svc.Touch(ctx, session.ID); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	clock.Advance(19 * time.Minute)
	if _, err := svc.Validate(ctx, session.ID); err != nil {
		t.Fatalf("touch should have reset idle clock: %v", err)
	}

	clock.Advance(20*time.Minute + time.Second)
	if _, err := svc.Validate(ctx, session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := svc.Validate(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session should be gone, got %v", err)
	}
}

func TestLogoutNotifiesListenersOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	var reasons []string
	svc.OnEnd(func(s *models.Session, reason string) {
		reasons = append(reasons, reason)
	})

	session, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if err := svc.Logout(ctx, session.ID); err != nil {
		t.Fatalf("second Logout should be a no-op: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != models.EndReasonLogout {
		t.Fatalf("unexpected end notifications %v", reasons)
	}
	if _, err := svc.Validate(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestJanitorExpiresAndPushesEvent(t *testing.T) {
	svc, clock := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idle, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	events, stop := svc.Watch(idle.ID)
	defer stop()

	clock.Advance(21 * time.Minute)
	fresh, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	svc.StartJanitor(ctx, 10*time.Millisecond)
	select {
	case ev := <-events:
		if ev.Type != models.EventSessionEnded || ev.Reason != models.EndReasonExpired {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("janitor did not expire idle session")
	}
	if _, ok := <-events; ok {
		t.Fatalf("watch channel should be closed after session end")
	}
	if _, err := svc.Validate(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session should survive janitor: %v", err)
	}
	if svc.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1", svc.ActiveCount())
	}
}

func TestWatchUnknownSessionReportsEnded(t *testing.T) {
	svc, _ := newTestService(t)
	events, stop := svc.Watch("missing")
	defer stop()
	ev, ok := <-events
	if !ok || ev.Type != models.EventSessionEnded {
		t.Fatalf("expected immediate session_ended, got %+v ok=%v", ev, ok)
	}
}

func TestWatchCancelClosesChannel(t *testing.T) {
	svc, _ := newTestService(t)
	session, err := svc.Login(context.Background(), "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	events, stop := svc.Watch(session.ID)
	stop()
	stop()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if err := svc.Logout(context.Background(), session.ID); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
}

func TestMetricsTrackSessions(t *testing.T) {
	metrics := observability.NewMetrics("auth_test")
	svc := NewService(time.Minute, nil, metrics)
	ctx := context.Background()

	session, err := svc.Login(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	_, _ = svc.Login(ctx, "admin", "nope")
	if got := testutil.ToFloat64(metrics.ActiveSessions); got != 1 {
		t.Fatalf("active sessions = %v", got)
	}
	_ = svc.Logout(ctx, session.ID)
	if got := testutil.ToFloat64(metrics.ActiveSessions); got != 0 {
		t.Fatalf("active sessions after logout = %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionEvents.WithLabelValues("login_failed")); got != 1 {
		t.Fatalf("login_failed = %v", got)
	}
}
