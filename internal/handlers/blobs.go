package handlers

import (
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/bgremover/internal/session"
)

// HandleBlob serves the bytes behind a live handle.
func (h *Handler) HandleBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	blob, ok := h.blobs.Get(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeBlob(w, blob.MIMEType, blob.Data)
}

// HandleDownload offers the processed image of a completed session.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.manager.Current()
	if !ok || s.Status != session.StatusCompleted {
		http.Error(w, "No processed image", http.StatusNotFound)
		return
	}
	blob, ok := h.blobs.Get(string(s.Processed))
	if !ok {
		http.Error(w, "No processed image", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": s.DownloadName(),
	}))
	h.writeBlob(w, blob.MIMEType, blob.Data)
}

func (h *Handler) writeBlob(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Unable to write blob", "err", err)
	}
}
