package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/lehigh-university-libraries/bgremover/internal/upload"
)

// multipart parts beyond this are spooled to disk by net/http
const maxFormMemory = 32 << 20

// HandleUpload accepts the files of a dialog selection or a drop. The first
// image starts a new session; anything else is ignored.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		h.writeError(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("Unable to remove multipart temp files", "err", err)
		}
	}()

	header, mimeType, ok := upload.SelectFirstImage(formFiles(r.MultipartForm))
	if !ok {
		slog.Info("Upload contained no image, ignoring")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	file, err := upload.Read(header, mimeType, h.uploadLimit)
	if errors.Is(err, upload.ErrTooLarge) {
		h.writeError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.manager.Accept(r.Context(), file.Name, file.MIMEType, file.Data)
	h.writeJSONStatus(w, http.StatusAccepted, h.state())
}

// formFiles returns the "files" entries, falling back to "file".
func formFiles(form *multipart.Form) []*multipart.FileHeader {
	if files := form.File["files"]; len(files) > 0 {
		return files
	}
	return form.File["file"]
}
