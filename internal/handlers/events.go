package handlers

import (
	"context"
	"net/http"

	"github.com/lehigh-university-libraries/bgremover/internal/models"
	"github.com/lehigh-university-libraries/bgremover/internal/notifyhub"
)

// HandleEvents upgrades to a websocket that receives the current state
// followed by every change.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	notifyhub.Handler(h.hub, func() any {
		st := h.state()
		return models.Event{Type: models.EventState, State: &st}
	})(w, r)
}

// Run forwards session changes and progress samples to websocket clients
// until ctx is done. Progress is sent at most once per event interval and
// always reflects the latest sample.
func (h *Handler) Run(ctx context.Context) {
	updates := h.relay.Updates()
	changes := h.manager.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			h.broadcastSession()
		case <-updates:
			if err := h.limiter.Wait(ctx); err != nil {
				return
			}
			h.broadcastProgress()
		}
	}
}

func (h *Handler) broadcastSession() {
	ev := models.Event{Type: models.EventSession}
	if s, ok := h.manager.Current(); ok {
		ev.Session = models.NewSessionView(s)
	}
	h.hub.Broadcast(ev)
}

func (h *Handler) broadcastProgress() {
	sample, ok := h.relay.Latest()
	if !ok {
		h.hub.Broadcast(models.Event{Type: models.EventProgressCleared})
		return
	}
	h.hub.Broadcast(models.Event{Type: models.EventProgress, Progress: models.NewProgressView(sample)})
}
