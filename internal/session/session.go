// Package session tracks the single active image and its removal
// lifecycle. Transitions are pure; Manager applies them and runs the
// resulting effects.
package session

import (
	"path/filepath"
	"strings"
)

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// FailureMessage is shown for every failed removal, whatever the cause.
const FailureMessage = "Failed to remove background"

// Handle is a revocable reference to bytes owned by a session.
type Handle string

// Session is the one active image. Processed is set iff Status is
// StatusCompleted; Error is set iff Status is StatusError.
type Session struct {
	ID        uint64
	Name      string
	Original  Handle
	Processed Handle
	Status    Status
	Error     string
}

// DownloadName is the file name offered for the processed image.
func (s Session) DownloadName() string {
	return DownloadName(s.Name)
}

// DownloadName strips the last extension of name and appends _no_bg.png.
// A trailing dot is not an extension; a name that is only an extension
// leaves nothing.
func DownloadName(name string) string {
	base := name
	if strings.Contains(name, "/") {
		base = filepath.Base(name)
	}
	if i := strings.LastIndex(base, "."); i >= 0 && i < len(base)-1 {
		base = base[:i]
	}
	return base + "_no_bg.png"
}

// Event drives a transition.
type Event interface{ isEvent() }

// Accepted replaces any session with a new one for an accepted file.
type Accepted struct {
	ID       uint64
	Name     string
	Original Handle
}

// Issued records that the removal call for ID has started.
type Issued struct{ ID uint64 }

// Resolved carries the handle created over the removal output for ID.
type Resolved struct {
	ID        uint64
	Processed Handle
}

// Rejected carries the failure of the removal call for ID.
type Rejected struct {
	ID    uint64
	Cause error
}

// Cleared removes the session without replacement.
type Cleared struct{}

func (Accepted) isEvent() {}
func (Issued) isEvent()   {}
func (Resolved) isEvent() {}
func (Rejected) isEvent() {}
func (Cleared) isEvent()  {}

// Effect is work the caller must perform after a transition.
type Effect interface{ isEffect() }

// Release frees a handle.
type Release struct{ Handle Handle }

// StartRemoval issues the removal call for the session ID.
type StartRemoval struct{ ID uint64 }

// LogFailure reports a removal failure. Stale failures belong to a
// superseded session and changed nothing.
type LogFailure struct {
	ID    uint64
	Cause error
	Stale bool
}

// ClearProgress resets the progress display.
type ClearProgress struct{}

func (Release) isEffect()       {}
func (StartRemoval) isEffect()  {}
func (LogFailure) isEffect()    {}
func (ClearProgress) isEffect() {}

// Apply returns the session that follows cur after ev, plus the effects to
// run. cur is never modified.
func Apply(cur *Session, ev Event) (*Session, []Effect) {
	switch e := ev.(type) {
	case Accepted:
		effects := releaseAll(cur)
		next := &Session{
			ID:       e.ID,
			Name:     e.Name,
			Original: e.Original,
			Status:   StatusUploading,
		}
		return next, append(effects, StartRemoval{ID: e.ID})

	case Issued:
		if !isCurrent(cur, e.ID, StatusUploading) {
			return cur, nil
		}
		next := *cur
		next.Status = StatusProcessing
		return &next, []Effect{ClearProgress{}}

	case Resolved:
		if !isCurrent(cur, e.ID, StatusProcessing) {
			// the output belongs to nobody
			return cur, []Effect{Release{Handle: e.Processed}}
		}
		next := *cur
		next.Status = StatusCompleted
		next.Processed = e.Processed
		return &next, []Effect{ClearProgress{}}

	case Rejected:
		if !isCurrent(cur, e.ID, StatusProcessing) {
			return cur, []Effect{LogFailure{ID: e.ID, Cause: e.Cause, Stale: true}}
		}
		next := *cur
		next.Status = StatusError
		next.Error = FailureMessage
		return &next, []Effect{LogFailure{ID: e.ID, Cause: e.Cause}, ClearProgress{}}

	case Cleared:
		if cur == nil {
			return nil, nil
		}
		return nil, append(releaseAll(cur), ClearProgress{})
	}
	return cur, nil
}

func isCurrent(cur *Session, id uint64, status Status) bool {
	return cur != nil && cur.ID == id && cur.Status == status
}

func releaseAll(s *Session) []Effect {
	if s == nil {
		return nil
	}
	effects := []Effect{Release{Handle: s.Original}}
	if s.Processed != "" {
		effects = append(effects, Release{Handle: s.Processed})
	}
	return effects
}
