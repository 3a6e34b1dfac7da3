package store

import (
	"strconv"
	"sync"
	"time"
)

// Session keys mirroring the persisted layout. Grace periods and trusted
// intents are keyed per tab via the helpers below.
const (
	SessionSidebarOpen     = "isSidebarOpen"
	SessionStartupComplete = "isBrowserStartupComplete"
	SessionClosingGroup    = "isClosingGroup"
	SessionActivePlayback  = "activeMediaPlaybackState"

	gracePrefix  = "grace_period_"
	intentPrefix = "trusted_intent_"
)

// Session is the volatile half of the facade. It lives in memory only and
// evaporates on daemon restart, which is exactly what distinguishes a real
// browser startup from a mere runtime wake.
type Session struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewSession creates an empty session store.
func NewSession() *Session {
	return &Session{m: make(map[string]any)}
}

// Get returns the raw value at key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Put stores a value at key.
func (s *Session) Put(key string, v any) {
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// Delete removes a key.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// GetBool reads a boolean flag, false when absent or mistyped.
func (s *Session) GetBool(key string) bool {
	v, ok := s.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// --- trusted intents (one-shot) ---

// PutTrustedIntent declares that tabID's next navigation commit belongs to
// the given (instance, item).
func (s *Session) PutTrustedIntent(tabID int, intent Intent) {
	s.Put(intentPrefix+strconv.Itoa(tabID), intent)
}

// TakeTrustedIntent consumes the intent for tabID. Single-use: the second
// call returns false.
func (s *Session) TakeTrustedIntent(tabID int) (Intent, bool) {
	key := intentPrefix + strconv.Itoa(tabID)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return Intent{}, false
	}
	delete(s.m, key)
	intent, ok := v.(Intent)
	return intent, ok
}

// PeekTrustedIntent reads without consuming (restoration checks).
func (s *Session) PeekTrustedIntent(tabID int) (Intent, bool) {
	v, ok := s.Get(intentPrefix + strconv.Itoa(tabID))
	if !ok {
		return Intent{}, false
	}
	intent, ok := v.(Intent)
	return intent, ok
}

// --- grace periods ---

// PutGracePeriod opens a redirect-tolerant grace window for tabID.
func (s *Session) PutGracePeriod(tabID int, at time.Time) {
	s.Put(gracePrefix+strconv.Itoa(tabID), at)
}

// GracePeriod returns the grace timestamp for tabID if one is open.
func (s *Session) GracePeriod(tabID int) (time.Time, bool) {
	v, ok := s.Get(gracePrefix + strconv.Itoa(tabID))
	if !ok {
		return time.Time{}, false
	}
	at, ok := v.(time.Time)
	return at, ok
}

// DeleteGracePeriod closes the window.
func (s *Session) DeleteGracePeriod(tabID int) {
	s.Delete(gracePrefix + strconv.Itoa(tabID))
}

// DropTab removes every per-tab session key for a closed tab.
func (s *Session) DropTab(tabID int) {
	id := strconv.Itoa(tabID)
	s.mu.Lock()
	delete(s.m, gracePrefix+id)
	delete(s.m, intentPrefix+id)
	s.mu.Unlock()
}
