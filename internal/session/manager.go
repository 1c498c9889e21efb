package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lehigh-university-libraries/bgremover/internal/removal"
)

// Remover performs the background removal for a session.
type Remover interface {
	RemoveImageBackground(ctx context.Context, data []byte, overrides *removal.Overrides, onProgress removal.ProgressFunc) ([]byte, error)
}

// Blobs creates and releases ownership handles.
type Blobs interface {
	Put(data []byte, mimeType string) string
	Release(handle string)
}

// Progress is the display the manager clears and feeds.
type Progress interface {
	Report(key string, current, total int64)
	Clear()
}

// Manager owns the current session. All changes go through Apply under mu.
type Manager struct {
	remover    Remover
	blobs      Blobs
	progress   Progress
	outputMIME string

	mu      sync.Mutex
	current *Session
	nextID  uint64

	changes chan struct{}
	wg      sync.WaitGroup
}

// NewManager returns a manager that stores processed output as outputMIME.
func NewManager(remover Remover, blobs Blobs, progress Progress, outputMIME string) *Manager {
	return &Manager{
		remover:    remover,
		blobs:      blobs,
		progress:   progress,
		outputMIME: outputMIME,
		changes:    make(chan struct{}, 1),
	}
}

// Accept starts a new session for the file, superseding the current one,
// and issues its removal. The removal outlives ctx cancellation.
func (m *Manager) Accept(ctx context.Context, name, mimeType string, data []byte) uint64 {
	original := Handle(m.blobs.Put(data, mimeType))

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	effects := m.transition(Accepted{ID: id, Name: name, Original: original})
	m.mu.Unlock()

	slog.Info("Image accepted", "session_id", id, "name", name, "type", mimeType, "size", len(data))
	m.execute(context.WithoutCancel(ctx), effects, data)
	return id
}

// Clear removes the current session and releases its handles.
func (m *Manager) Clear() {
	m.mu.Lock()
	effects := m.transition(Cleared{})
	m.mu.Unlock()

	m.execute(context.Background(), effects, nil)
}

// Current returns a copy of the active session.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// Changes signals after the session changed. Pending signals coalesce;
// read Current for the state.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

// Wait blocks until every issued removal has settled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// transition must be called with m.mu held.
func (m *Manager) transition(ev Event) []Effect {
	next, effects := Apply(m.current, ev)
	if next != m.current {
		m.current = next
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
	return effects
}

func (m *Manager) execute(ctx context.Context, effects []Effect, data []byte) {
	for _, effect := range effects {
		switch e := effect.(type) {
		case Release:
			m.blobs.Release(string(e.Handle))
		case ClearProgress:
			m.progress.Clear()
		case LogFailure:
			if e.Stale {
				slog.Warn("Discarding failure of superseded session", "session_id", e.ID, "error", e.Cause)
				continue
			}
			slog.Error("Background removal failed", "session_id", e.ID, "error", e.Cause)
		case StartRemoval:
			m.mu.Lock()
			issued := m.transition(Issued{ID: e.ID})
			m.mu.Unlock()
			m.execute(ctx, issued, nil)

			m.wg.Add(1)
			go m.remove(ctx, e.ID, data)
		}
	}
}

func (m *Manager) remove(ctx context.Context, id uint64, data []byte) {
	defer m.wg.Done()

	out, err := m.call(ctx, data, m.reportFor(id))
	var ev Event
	if err != nil {
		ev = Rejected{ID: id, Cause: err}
	} else {
		ev = Resolved{ID: id, Processed: Handle(m.blobs.Put(out, m.outputMIME))}
		slog.Info("Background removed", "session_id", id, "size", len(out))
	}

	m.mu.Lock()
	effects := m.transition(ev)
	m.mu.Unlock()
	m.execute(ctx, effects, nil)
}

// reportFor forwards progress only while id is the current session.
func (m *Manager) reportFor(id uint64) removal.ProgressFunc {
	return func(key string, current, total int64) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.current == nil || m.current.ID != id {
			return
		}
		m.progress.Report(key, current, total)
	}
}

func (m *Manager) call(ctx context.Context, data []byte, onProgress removal.ProgressFunc) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("removal panicked: %v", r)
		}
	}()
	return m.remover.RemoveImageBackground(ctx, data, nil, onProgress)
}
