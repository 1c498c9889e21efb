package handlers

import (
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/bgremover/internal/storage"
)

// Routes returns the mux serving the page, the API and the blobs.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", h.HandleState)
	mux.HandleFunc("/api/upload", h.HandleUpload)
	mux.HandleFunc("/api/clear", h.HandleClear)
	mux.HandleFunc("/api/preload", h.HandlePreload)
	mux.HandleFunc("/api/download", h.HandleDownload)
	mux.HandleFunc("/api/events", h.HandleEvents)
	mux.HandleFunc(storage.Prefix, h.HandleBlob)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	mux.HandleFunc("/", h.HandleStatic)
	return mux
}
