package upload

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
)

type part struct {
	name        string
	contentType string
	data        []byte
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png encode error = %v", err)
	}
	return buf.Bytes()
}

// buildForm round-trips parts through a real multipart body.
func buildForm(t *testing.T, parts []part) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		fw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart error = %v", err)
		}
		_, _ = fw.Write(p.data)
	}
	_ = w.Close()

	form, err := multipart.NewReader(&body, w.Boundary()).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm error = %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}

func TestIsImageType(t *testing.T) {
	tests := []struct {
		mime     string
		expected bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"IMAGE/WEBP", true},
		{"application/pdf", false},
		{"text/plain", false},
		{"", false},
		{"imagery/foo", false},
	}
	for _, tt := range tests {
		if got := IsImageType(tt.mime); got != tt.expected {
			t.Errorf("IsImageType(%q) = %v, expected %v", tt.mime, got, tt.expected)
		}
	}
}

func TestSelectFirstImage(t *testing.T) {
	img := pngBytes(t)

	tests := []struct {
		name         string
		parts        []part
		expectedName string
		expectedType string
		found        bool
	}{
		{
			name: "first image among mixed entries",
			parts: []part{
				{"notes.txt", "text/plain", []byte("hello")},
				{"doc.pdf", "application/pdf", []byte("%PDF-1.4")},
				{"cat.jpg", "image/jpeg", []byte("jpeg")},
				{"dog.png", "image/png", img},
			},
			expectedName: "cat.jpg",
			expectedType: "image/jpeg",
			found:        true,
		},
		{
			name: "no image entries",
			parts: []part{
				{"doc.pdf", "application/pdf", []byte("%PDF-1.4")},
			},
			found: false,
		},
		{
			name: "octet-stream is sniffed",
			parts: []part{
				{"blob", "application/octet-stream", img},
			},
			expectedName: "blob",
			expectedType: "image/png",
			found:        true,
		},
		{
			name: "declared type wins over content",
			parts: []part{
				{"fake.png", "text/plain", img},
			},
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, declared, ok := SelectFirstImage(buildForm(t, tt.parts))
			if ok != tt.found {
				t.Fatalf("Expected found=%v, got %v", tt.found, ok)
			}
			if !ok {
				return
			}
			if header.Filename != tt.expectedName {
				t.Errorf("Expected %s, got %s", tt.expectedName, header.Filename)
			}
			if declared != tt.expectedType {
				t.Errorf("Expected type %s, got %s", tt.expectedType, declared)
			}
		})
	}
}

func TestSelectFirstImageEmpty(t *testing.T) {
	if _, _, ok := SelectFirstImage(nil); ok {
		t.Error("Expected nothing to be selected from an empty selection")
	}
}

func TestRead(t *testing.T) {
	headers := buildForm(t, []part{{"cat.jpg", "image/jpeg", []byte("0123456789")}})

	f, err := Read(headers[0], "image/jpeg", 10)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Name != "cat.jpg" || f.MIMEType != "image/jpeg" || string(f.Data) != "0123456789" {
		t.Errorf("Unexpected file %+v", f)
	}

	_, err = Read(headers[0], "image/jpeg", 9)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

func TestSelectFirstImagePath(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	img := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4\n%EOF"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(img, pngBytes(t), 0644); err != nil {
		t.Fatal(err)
	}

	path, mimeType, ok := SelectFirstImagePath([]string{filepath.Join(dir, "missing.png"), pdf, img})
	if !ok {
		t.Fatal("Expected an image path")
	}
	if path != img || mimeType != "image/png" {
		t.Errorf("Expected %s image/png, got %s %s", img, path, mimeType)
	}

	if _, _, ok := SelectFirstImagePath([]string{pdf}); ok {
		t.Error("Expected no image among non-image paths")
	}
}
