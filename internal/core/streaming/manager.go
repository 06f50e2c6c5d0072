package streaming

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrUnknownResponse is returned when cancelling a response that is not in flight.
var ErrUnknownResponse = errors.New("unknown response")

type inflight struct {
	sessionID  string
	responseID string
	cancel     context.CancelFunc
}

// Manager tracks the in-flight response of every chat session. A session has
// at most one response applying chunks; starting a new one cancels the old.
type Manager struct {
	mu        sync.Mutex
	bySession map[string]inflight
	byID      map[string]inflight
}

func NewManager() *Manager {
	return &Manager{
		bySession: make(map[string]inflight),
		byID:      make(map[string]inflight),
	}
}

// Begin registers a new response for sessionID and returns its context and id.
// A response already streaming for the session is cancelled.
func (m *Manager) Begin(parent context.Context, sessionID string) (context.Context, string) {
	ctx, cancel := context.WithCancel(parent)
	entry := inflight{sessionID: sessionID, responseID: uuid.NewString(), cancel: cancel}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.bySession[sessionID]; ok {
		logrus.WithFields(logrus.Fields{
			"session_id":  sessionID,
			"response_id": prev.responseID,
		}).Debug("superseding in-flight response")
		prev.cancel()
		delete(m.byID, prev.responseID)
	}
	m.bySession[sessionID] = entry
	m.byID[entry.responseID] = entry
	return ctx, entry.responseID
}

// IsCurrent reports whether responseID is still the live response of sessionID.
func (m *Manager) IsCurrent(sessionID, responseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bySession[sessionID]
	return ok && cur.responseID == responseID
}

// Cancel stops a response. The entry is removed right away so late chunks of
// the response fail IsCurrent.
func (m *Manager) Cancel(responseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[responseID]
	if !ok {
		return ErrUnknownResponse
	}
	entry.cancel()
	m.remove(entry)
	return nil
}

// Finish releases a response. It is safe to call more than once and never
// touches a newer response of the same session.
func (m *Manager) Finish(sessionID, responseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[responseID]
	if !ok || entry.sessionID != sessionID {
		return
	}
	entry.cancel()
	m.remove(entry)
}

// SessionOf returns the session a live response belongs to.
func (m *Manager) SessionOf(responseID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byID[responseID]
	return entry.sessionID, ok
}

func (m *Manager) remove(entry inflight) {
	delete(m.byID, entry.responseID)
	if cur, ok := m.bySession[entry.sessionID]; ok && cur.responseID == entry.responseID {
		delete(m.bySession, entry.sessionID)
	}
}
