package core

import (
	"sync"

	"haccare/pkg/domain"
)

// workspaceLocks is the single-writer-per-workspace gate. Restores take the
// exclusive side for the whole Validating→Finalizing span; captures take the
// shared side so they exclude restores of the same workspace but not each
// other. Both sides are non-blocking: a busy workspace is reported as a
// ConcurrencyConflictError immediately, never queued.
type workspaceLocks struct {
	mu     sync.Mutex
	states map[string]*lockState
}

type lockState struct {
	exclusive bool
	shared    int
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{states: make(map[string]*lockState)}
}

func (l *workspaceLocks) acquireExclusive(workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.states[workspaceID]
	if state != nil && (state.exclusive || state.shared > 0) {
		return &domain.ConcurrencyConflictError{WorkspaceID: workspaceID}
	}
	l.states[workspaceID] = &lockState{exclusive: true}
	return nil
}

func (l *workspaceLocks) acquireShared(workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.states[workspaceID]
	if state == nil {
		state = &lockState{}
		l.states[workspaceID] = state
	}
	if state.exclusive {
		return &domain.ConcurrencyConflictError{WorkspaceID: workspaceID}
	}
	state.shared++
	return nil
}

func (l *workspaceLocks) releaseExclusive(workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, workspaceID)
}

func (l *workspaceLocks) releaseShared(workspaceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.states[workspaceID]
	if state == nil {
		return
	}
	state.shared--
	if state.shared <= 0 && !state.exclusive {
		delete(l.states, workspaceID)
	}
}
