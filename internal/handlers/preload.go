package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/bgremover/internal/models"
)

// HandlePreload starts fetching model assets in the background. Concurrent
// requests share one preload. A failure is only logged so the page can
// offer the button again.
func (h *Handler) HandlePreload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.preloaded.Load() {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.runPreload(context.WithoutCancel(r.Context()))
		}()
	}
	h.writeJSONStatus(w, http.StatusAccepted, h.state())
}

func (h *Handler) runPreload(ctx context.Context) {
	_, _, _ = h.preload.Do("preload", func() (any, error) {
		h.preloading.Store(true)
		h.broadcastPreload()

		err := h.service.Preload(ctx, nil, h.relay.Report)
		if err != nil {
			slog.Error("Preload failed", "err", err)
		} else {
			h.preloaded.Store(true)
			slog.Info("Assets ready")
		}

		h.preloading.Store(false)
		h.broadcastPreload()
		return nil, err
	})
}

func (h *Handler) broadcastPreload() {
	view := h.preloadView()
	h.hub.Broadcast(models.Event{Type: models.EventPreload, Preload: &view})
}
