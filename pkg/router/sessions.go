package router

import (
	"sync"
	"time"
)

// sessionRecord is one live server-side session entry backing a signed
// session cookie. The session table is an in-memory map protected by a
// single lock; it is never persisted, so sessions do not survive a restart.
type sessionRecord struct {
	UserID    string
	CreatedAt time.Time
}

// sessionTable is the in-memory map of session ID to session record.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]sessionRecord
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]sessionRecord)}
}

func (t *sessionTable) put(sessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = sessionRecord{UserID: userID, CreatedAt: time.Now()}
}

func (t *sessionTable) get(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.sessions[sessionID]
	if !ok {
		return "", false
	}
	return rec.UserID, true
}

func (t *sessionTable) delete(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// sessionUser resolves a session ID to its owning user via the in-memory
// table, used by checkSessionCookie to recover the user_id the signature
// covers.
func (rt *Router) sessionUser(sessionID string) (string, bool) {
	return rt.sessions.get(sessionID)
}

// CreateSession registers a new server-side session for userID and
// returns the cookie value to set.
func (rt *Router) CreateSession(userID string) string {
	sessionID := newSessionID()
	rt.sessions.put(sessionID, userID)
	return NewSessionCookie(rt.SessionSecret, sessionID, userID, time.Now())
}

// EndSession removes a session from the in-memory table (logout).
func (rt *Router) EndSession(cookieValue string) {
	parts := splitCookie(cookieValue)
	if parts == "" {
		return
	}
	rt.sessions.delete(parts)
}

func splitCookie(value string) string {
	for i := 0; i < len(value); i++ {
		if value[i] == '.' {
			return value[:i]
		}
	}
	return ""
}
