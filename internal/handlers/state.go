package handlers

import (
	"net/http"
)

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, h.state())
	case http.MethodDelete:
		h.clear(w)
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.clear(w)
}

func (h *Handler) clear(w http.ResponseWriter) {
	h.manager.Clear()
	h.writeJSON(w, h.state())
}
