package conversation

import (
	"sync"
	"time"
)

// transientError is a user-visible message that expires on its own.
type transientError struct {
	mu       sync.Mutex
	msg      string
	setAt    time.Time
	ttl      time.Duration
	now      func() time.Time
	timer    *time.Timer
	onExpire func()
}

func newTransientError(ttl time.Duration, onExpire func()) *transientError {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &transientError{ttl: ttl, now: time.Now, onExpire: onExpire}
}

func (e *transientError) Set(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msg = msg
	e.setAt = e.now()
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.onExpire != nil {
		e.timer = time.AfterFunc(e.ttl, e.onExpire)
	}
}

func (e *transientError) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msg = ""
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Get returns the message, or "" once the display window has passed.
func (e *transientError) Get() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.msg == "" || e.now().Sub(e.setAt) >= e.ttl {
		return ""
	}
	return e.msg
}
