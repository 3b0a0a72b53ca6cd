package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return tok
}

func TestManagerStartTokenLogout(t *testing.T) {
	m := NewManager("")
	if m.Token() != "" {
		t.Fatalf("anonymous manager should have no token")
	}

	tok := signedToken(t, "acc-1", time.Now().Add(time.Hour))
	s, err := m.Start(tok)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ID == "" || s.AccountID != "acc-1" || s.Status != StatusActive || s.ExpiresAt == nil {
		t.Fatalf("unexpected session state: %+v", s)
	}
	if got := m.Token(); got != tok {
		t.Fatalf("Token() = %q, want started token", got)
	}

	ended, err := m.Logout()
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if m.Token() != "" {
		t.Fatalf("Token() should be empty after logout")
	}
	if _, err := m.Logout(); err != ErrNotFound {
		t.Fatalf("second Logout() error = %v, want ErrNotFound", err)
	}
}

func TestManagerAcceptsOpaqueToken(t *testing.T) {
	m := NewManager("")
	s, err := m.Start("  opaque-token  ")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ExpiresAt != nil {
		t.Fatalf("opaque token should not carry an expiry")
	}
	if m.Token() != "opaque-token" {
		t.Fatalf("Token() = %q", m.Token())
	}
}

func TestManagerRejectsExpiredAndEmptyTokens(t *testing.T) {
	m := NewManager("")
	if _, err := m.Start(" "); err != ErrNoToken {
		t.Fatalf("Start(blank) error = %v, want ErrNoToken", err)
	}
	if _, err := m.Start(signedToken(t, "acc-1", time.Now().Add(-time.Minute))); err != ErrExpired {
		t.Fatalf("Start(expired) error = %v, want ErrExpired", err)
	}
}

func TestManagerAccountClearedOnReplace(t *testing.T) {
	m := NewManager("")
	var reasons []EndReason
	m.SetEndHook(func(_ *Session, r EndReason) { reasons = append(reasons, r) })

	if _, err := m.Start("first"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.SetAccount(Account{ID: "acc-9", Channel: "web"}); err != nil {
		t.Fatalf("SetAccount() error = %v", err)
	}
	if a := m.Account(); a == nil || a.ID != "acc-9" {
		t.Fatalf("Account() = %+v", a)
	}
	if snap := m.Snapshot(); snap.AccountID != "acc-9" || snap.Account == nil {
		t.Fatalf("Snapshot() = %+v", snap)
	}

	if _, err := m.Start("second"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.Account() != nil {
		t.Fatalf("account should not survive a token replacement")
	}
	if len(reasons) != 1 || reasons[0] != EndReplaced {
		t.Fatalf("end reasons = %v", reasons)
	}
}

func TestManagerPersistsAndRestoresToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	tok := signedToken(t, "acc-2", time.Now().Add(time.Hour))

	if _, err := NewManager(path).Start(tok); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("token file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode = %v", info.Mode().Perm())
	}

	restored := NewManager(path)
	s, err := restored.Restore()
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if s.AccountID != "acc-2" || restored.Token() != strings.TrimSpace(tok) {
		t.Fatalf("restored session = %+v", s)
	}

	if _, err := restored.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("token file should be removed on logout, stat err = %v", err)
	}
	if _, err := NewManager(path).Restore(); err != ErrNotFound {
		t.Fatalf("Restore() after logout error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresToken(t *testing.T) {
	m := NewManager("")
	var (
		mu     sync.Mutex
		reason EndReason
	)
	m.SetEndHook(func(_ *Session, r EndReason) {
		mu.Lock()
		reason = r
		mu.Unlock()
	})
	if _, err := m.Start(signedToken(t, "acc-3", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m.mu.Lock()
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for m.Token() != "" {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not expire the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if reason != EndExpired {
		t.Fatalf("end reason = %q, want %q", reason, EndExpired)
	}
}
