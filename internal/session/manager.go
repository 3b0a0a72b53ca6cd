package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Status string

const (
	StatusAnonymous Status = "anonymous"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNoToken  = errors.New("session token is empty")
	ErrExpired  = errors.New("session token expired")
)

// Session is one authenticated lifetime: from Start until logout, expiry or
// replacement by a newer token.
type Session struct {
	ID        string     `json:"session_id"`
	AccountID string     `json:"account_id"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	token   string
	account *Account
}

// Manager owns the bearer token read by every outgoing request.
type Manager struct {
	mu        sync.RWMutex
	current   *Session
	tokenFile string
	onEnd     func(*Session, EndReason)
	now       func() time.Time
}

// NewManager returns an anonymous manager. A non-empty tokenFile persists the
// token across restarts.
func NewManager(tokenFile string) *Manager {
	return &Manager{
		tokenFile: strings.TrimSpace(tokenFile),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetEndHook(hook func(*Session, EndReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

// Start begins a session for token, ending any previous one.
func (m *Manager) Start(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Status:    StatusActive,
		StartedAt: now,
		token:     token,
	}
	// The backend verifies signatures; the client only needs sub and exp.
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil {
		s.AccountID = claims.Subject
		if claims.ExpiresAt != nil {
			exp := claims.ExpiresAt.Time.UTC()
			if !now.Before(exp) {
				return nil, ErrExpired
			}
			s.ExpiresAt = &exp
		}
	}

	m.mu.Lock()
	prev := m.endLocked(now)
	m.current = s
	hook := m.onEnd
	tokenFile := m.tokenFile
	m.mu.Unlock()

	if prev != nil && hook != nil {
		hook(prev, EndReplaced)
	}
	if tokenFile != "" {
		if err := writeTokenFile(tokenFile, token); err != nil {
			return clone(s), fmt.Errorf("persist session token: %w", err)
		}
	}
	return clone(s), nil
}

// Restore starts a session from the persisted token file, if any.
func (m *Manager) Restore() (*Session, error) {
	if m.tokenFile == "" {
		return nil, ErrNotFound
	}
	raw, err := os.ReadFile(m.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session token: %w", err)
	}
	s, err := m.Start(string(raw))
	if errors.Is(err, ErrExpired) || errors.Is(err, ErrNoToken) {
		_ = os.Remove(m.tokenFile)
	}
	return s, err
}

// Token returns the bearer token of the active session, or "".
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Status != StatusActive {
		return ""
	}
	return m.current.token
}

func (m *Manager) Current() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNotFound
	}
	return clone(m.current), nil
}

// SetAccount attaches the fetched account profile to the active session.
func (m *Manager) SetAccount(account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.Status != StatusActive {
		return ErrNotFound
	}
	a := account
	m.current.account = &a
	if m.current.AccountID == "" {
		m.current.AccountID = account.ID
	}
	return nil
}

// Account returns the profile of the active session, or nil.
func (m *Manager) Account() *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Status != StatusActive || m.current.account == nil {
		return nil
	}
	a := *m.current.account
	return &a
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || m.current.Status != StatusActive {
		return Snapshot{Status: StatusAnonymous}
	}
	s := m.current
	snap := Snapshot{
		SessionID: s.ID,
		Status:    s.Status,
		AccountID: s.AccountID,
		StartedAt: s.StartedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if s.account != nil {
		a := *s.account
		snap.Account = &a
	}
	return snap
}

// Logout clears the token and the persisted copy.
func (m *Manager) Logout() (*Session, error) {
	m.mu.Lock()
	ended := m.endLocked(m.now())
	hook := m.onEnd
	tokenFile := m.tokenFile
	m.mu.Unlock()

	if tokenFile != "" {
		if err := os.Remove(tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ended, fmt.Errorf("remove session token: %w", err)
		}
	}
	if ended == nil {
		return nil, ErrNotFound
	}
	if hook != nil {
		hook(ended, EndLogout)
	}
	return ended, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expire()
			}
		}
	}()
}

func (m *Manager) expire() {
	now := m.now()

	m.mu.Lock()
	s := m.current
	if s == nil || s.Status != StatusActive || s.ExpiresAt == nil || now.Before(*s.ExpiresAt) {
		m.mu.Unlock()
		return
	}
	ended := m.endLocked(now)
	hook := m.onEnd
	tokenFile := m.tokenFile
	m.mu.Unlock()

	if tokenFile != "" {
		_ = os.Remove(tokenFile)
	}
	if hook != nil {
		hook(ended, EndExpired)
	}
}

func (m *Manager) endLocked(now time.Time) *Session {
	s := m.current
	if s == nil || s.Status != StatusActive {
		return nil
	}
	s.Status = StatusEnded
	s.EndedAt = &now
	s.token = ""
	s.account = nil
	return clone(s)
}

func writeTokenFile(path, token string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

func clone(s *Session) *Session {
	c := *s
	c.token = ""
	c.account = nil
	return &c
}
