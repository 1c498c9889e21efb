package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/lehigh-university-libraries/bgremover/internal/models"
	"github.com/lehigh-university-libraries/bgremover/internal/notifyhub"
	"github.com/lehigh-university-libraries/bgremover/internal/progress"
	"github.com/lehigh-university-libraries/bgremover/internal/removal"
	"github.com/lehigh-university-libraries/bgremover/internal/session"
	"github.com/lehigh-university-libraries/bgremover/internal/storage"
	"github.com/lehigh-university-libraries/bgremover/internal/upload"
)

// DefaultEventInterval is the minimum gap between progress pushes.
const DefaultEventInterval = 50 * time.Millisecond

type Options struct {
	Service     *removal.Service
	Blobs       *storage.BlobStore
	Relay       *progress.Relay
	Hub         *notifyhub.Hub
	UploadLimit int64
	// EventInterval paces progress events; zero selects DefaultEventInterval.
	EventInterval time.Duration
}

type Handler struct {
	manager     *session.Manager
	service     *removal.Service
	blobs       *storage.BlobStore
	relay       *progress.Relay
	hub         *notifyhub.Hub
	uploadLimit int64
	limiter     *rate.Limiter

	preload    singleflight.Group
	preloaded  atomic.Bool
	preloading atomic.Bool
	wg         sync.WaitGroup
}

func New(opts Options) *Handler {
	if opts.Blobs == nil {
		opts.Blobs = storage.New()
	}
	if opts.Relay == nil {
		opts.Relay = progress.NewRelay()
	}
	if opts.Hub == nil {
		opts.Hub = notifyhub.New()
	}
	if opts.UploadLimit <= 0 {
		opts.UploadLimit = upload.DefaultLimit
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = DefaultEventInterval
	}

	return &Handler{
		manager:     session.NewManager(opts.Service, opts.Blobs, opts.Relay, opts.Service.Defaults().Output.Format),
		service:     opts.Service,
		blobs:       opts.Blobs,
		relay:       opts.Relay,
		hub:         opts.Hub,
		uploadLimit: opts.UploadLimit,
		limiter:     rate.NewLimiter(rate.Every(opts.EventInterval), 1),
	}
}

// Wait blocks until in-flight removals and preloads have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
	h.manager.Wait()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(payload, '\n')); err != nil {
		slog.Error("Unable to write JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// State helpers
func (h *Handler) state() models.State {
	st := models.State{
		Preload: h.preloadView(),
	}
	if s, ok := h.manager.Current(); ok {
		st.Session = models.NewSessionView(s)
	}
	if sample, ok := h.relay.Latest(); ok {
		st.Progress = models.NewProgressView(sample)
	}
	return st
}

func (h *Handler) preloadView() models.PreloadView {
	return models.PreloadView{
		Preloaded: h.preloaded.Load(),
		Running:   h.preloading.Load(),
	}
}
