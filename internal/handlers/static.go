package handlers

import (
	"embed"
	"log/slog"
	"net/http"
)

//go:embed static/index.html
var static embed.FS

func (h *Handler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}

	page, err := static.ReadFile("static/index.html")
	if err != nil {
		h.writeError(w, "Page not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		slog.Error("Unable to write page", "err", err)
	}
}
