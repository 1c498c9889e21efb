// Package upload picks the image to process out of a user's selection.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultLimit caps the size of an accepted file.
const DefaultLimit = 10 * 1024 * 1024

var ErrTooLarge = errors.New("file too large")

// File is an accepted image read into memory.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsImageType reports whether a declared MIME type is an image type.
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// DeclaredType is the part's Content-Type. Parts without a useful type are
// sniffed.
func DeclaredType(header *multipart.FileHeader) string {
	declared := header.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	f, err := header.Open()
	if err != nil {
		slog.Warn("Unable to open upload for sniffing", "filename", header.Filename, "err", err)
		return declared
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return declared
	}
	return mt.String()
}

// SelectFirstImage returns the first header whose declared type is an image.
func SelectFirstImage(headers []*multipart.FileHeader) (*multipart.FileHeader, string, bool) {
	for _, header := range headers {
		if header == nil {
			continue
		}
		if declared := DeclaredType(header); IsImageType(declared) {
			return header, declared, true
		}
	}
	return nil, "", false
}

// Read loads the selected part, refusing anything over limit bytes.
func Read(header *multipart.FileHeader, mimeType string, limit int64) (File, error) {
	f, err := header.Open()
	if err != nil {
		return File{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	if int64(len(data)) > limit {
		return File{}, fmt.Errorf("%s: %w (max %d bytes)", header.Filename, ErrTooLarge, limit)
	}

	return File{
		Name:     filepath.Base(header.Filename),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// SelectFirstImagePath is the command line counterpart of SelectFirstImage;
// the type of a path is detected from its content.
func SelectFirstImagePath(paths []string) (string, string, bool) {
	for _, path := range paths {
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			slog.Debug("Skipping unreadable path", "path", path, "err", err)
			continue
		}
		if IsImageType(mt.String()) {
			return path, mt.String(), true
		}
	}
	return "", "", false
}
