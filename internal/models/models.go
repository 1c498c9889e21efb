package models

import (
	"github.com/lehigh-university-libraries/bgremover/internal/progress"
	"github.com/lehigh-university-libraries/bgremover/internal/session"
)

// Event types pushed over the websocket
const (
	EventProgress        = "progress"
	EventProgressCleared = "progress_cleared"
	EventSession         = "session"
	EventPreload         = "preload"
	EventState           = "state"
)

// SessionView is the image session as the page renders it
type SessionView struct {
	ID           uint64         `json:"id"`
	Name         string         `json:"name"`
	Status       session.Status `json:"status"`
	OriginalURL  string         `json:"original_url"`
	ProcessedURL string         `json:"processed_url,omitempty"`
	Error        string         `json:"error,omitempty"`
	DownloadName string         `json:"download_name,omitempty"`
}

// ProgressView is a progress sample with its display percentage
type ProgressView struct {
	Key     string `json:"key"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	Percent int    `json:"percent"`
}

// PreloadView tracks the preload button
type PreloadView struct {
	Preloaded bool `json:"preloaded"`
	Running   bool `json:"running"`
}

// State is the full page snapshot returned by GET /api/state
type State struct {
	Session  *SessionView  `json:"session"`
	Preload  PreloadView   `json:"preload"`
	Progress *ProgressView `json:"progress"`
}

// Event is one websocket message. Only the field matching Type is set.
type Event struct {
	Type     string        `json:"type"`
	Session  *SessionView  `json:"session,omitempty"`
	Progress *ProgressView `json:"progress,omitempty"`
	Preload  *PreloadView  `json:"preload,omitempty"`
	State    *State        `json:"state,omitempty"`
}

func NewSessionView(s session.Session) *SessionView {
	v := &SessionView{
		ID:           s.ID,
		Name:         s.Name,
		Status:       s.Status,
		OriginalURL:  string(s.Original),
		ProcessedURL: string(s.Processed),
		Error:        s.Error,
	}
	if s.Status == session.StatusCompleted {
		v.DownloadName = s.DownloadName()
	}
	return v
}

func NewProgressView(s progress.Sample) *ProgressView {
	return &ProgressView{
		Key:     s.Key,
		Current: s.Current,
		Total:   s.Total,
		Percent: s.Percent(),
	}
}
