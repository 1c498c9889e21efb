package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/bgremover/internal/models"
	"github.com/lehigh-university-libraries/bgremover/internal/removal"
	"github.com/lehigh-university-libraries/bgremover/internal/session"
	"github.com/lehigh-university-libraries/bgremover/internal/storage"
)

type fakeLibrary struct {
	mu         sync.Mutex
	preloads   int
	preloadErr error
	removeErr  error
}

func (f *fakeLibrary) Preload(ctx context.Context, cfg removal.Config) error {
	f.mu.Lock()
	f.preloads++
	f.mu.Unlock()
	cfg.Progress("fetch:model", 5, 10)
	return f.preloadErr
}

func (f *fakeLibrary) RemoveBackground(ctx context.Context, input []byte, cfg removal.Config) ([]byte, error) {
	cfg.Progress("compute:inference", 1, 2)
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	return append([]byte("processed:"), input...), nil
}

func (f *fakeLibrary) preloadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preloads
}

type part struct {
	name        string
	contentType string
	data        string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, p.name))
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		w, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.data))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func newTestHandler(t *testing.T, lib *fakeLibrary) (*Handler, *storage.BlobStore, http.Handler) {
	t.Helper()
	blobs := storage.New()
	h := New(Options{
		Service: removal.NewService(lib, removal.DefaultConfig()),
		Blobs:   blobs,
	})
	t.Cleanup(h.Wait)
	return h, blobs, h.Routes()
}

func do(t *testing.T, mux http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func getState(t *testing.T, mux http.Handler) models.State {
	t.Helper()
	rec := do(t, mux, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return st
}

func uploadImage(t *testing.T, mux http.Handler, h *Handler) models.State {
	t.Helper()
	body, ct := multipartBody(t, part{name: "photo.jpg", contentType: "image/jpeg", data: "jpeg-bytes"})
	rec := do(t, mux, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.manager.Wait()
	return getState(t, mux)
}

func TestUploadIgnoresNonImages(t *testing.T) {
	_, blobs, mux := newTestHandler(t, &fakeLibrary{})

	body, ct := multipartBody(t, part{name: "report.pdf", contentType: "application/pdf", data: "%PDF-1.4"})
	rec := do(t, mux, http.MethodPost, "/api/upload", body, ct)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, getState(t, mux).Session)
	assert.Zero(t, blobs.Len())
}

func TestUploadCompletesFirstImage(t *testing.T) {
	h, _, mux := newTestHandler(t, &fakeLibrary{})

	body, ct := multipartBody(t,
		part{name: "notes.txt", contentType: "text/plain", data: "hello"},
		part{name: "photo.jpg", contentType: "image/jpeg", data: "first"},
		part{name: "other.png", contentType: "image/png", data: "second"},
	)
	rec := do(t, mux, http.MethodPost, "/api/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.manager.Wait()

	st := getState(t, mux)
	require.NotNil(t, st.Session)
	assert.Equal(t, "photo.jpg", st.Session.Name)
	assert.Equal(t, session.StatusCompleted, st.Session.Status)
	assert.Equal(t, "photo_no_bg.png", st.Session.DownloadName)
	assert.Nil(t, st.Progress, "progress is cleared once the removal completes")

	original := do(t, mux, http.MethodGet, st.Session.OriginalURL, nil, "")
	assert.Equal(t, http.StatusOK, original.Code)
	assert.Equal(t, "image/jpeg", original.Header().Get("Content-Type"))
	assert.Equal(t, "first", original.Body.String())

	processed := do(t, mux, http.MethodGet, st.Session.ProcessedURL, nil, "")
	assert.Equal(t, http.StatusOK, processed.Code)
	assert.Equal(t, "image/png", processed.Header().Get("Content-Type"))
	assert.Equal(t, "processed:first", processed.Body.String())
}

func TestUploadRejectsOversizedImage(t *testing.T) {
	lib := &fakeLibrary{}
	h := New(Options{
		Service:     removal.NewService(lib, removal.DefaultConfig()),
		UploadLimit: 4,
	})
	t.Cleanup(h.Wait)
	mux := h.Routes()

	body, ct := multipartBody(t, part{name: "big.png", contentType: "image/png", data: "12345"})
	rec := do(t, mux, http.MethodPost, "/api/upload", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, getState(t, mux).Session)
}

func TestUploadRequiresMultipart(t *testing.T) {
	_, _, mux := newTestHandler(t, &fakeLibrary{})

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/api/upload", strings.NewReader("{}"), "application/json").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodGet, "/api/upload", nil, "").Code)
}

func TestFailedRemovalShowsGenericError(t *testing.T) {
	h, _, mux := newTestHandler(t, &fakeLibrary{removeErr: errors.New("onnx session crashed")})

	st := uploadImage(t, mux, h)
	require.NotNil(t, st.Session)
	assert.Equal(t, session.StatusError, st.Session.Status)
	assert.Equal(t, "Failed to remove background", st.Session.Error)
	assert.Empty(t, st.Session.ProcessedURL)

	rec := do(t, mux, http.MethodGet, "/api/download", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload(t *testing.T) {
	h, _, mux := newTestHandler(t, &fakeLibrary{})
	uploadImage(t, mux, h)

	rec := do(t, mux, http.MethodGet, "/api/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed:jpeg-bytes", rec.Body.String())

	disposition, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "photo_no_bg.png", params["filename"])
}

func TestClearReleasesHandles(t *testing.T) {
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/clear"},
		{http.MethodDelete, "/api/state"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			h, blobs, mux := newTestHandler(t, &fakeLibrary{})
			st := uploadImage(t, mux, h)
			require.NotNil(t, st.Session)

			rec := do(t, mux, tc.method, tc.path, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)

			assert.Nil(t, getState(t, mux).Session)
			assert.Zero(t, blobs.Len())
			assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, st.Session.OriginalURL, nil, "").Code)
			assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, st.Session.ProcessedURL, nil, "").Code)
			assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/download", nil, "").Code)
		})
	}
}

func TestPreload(t *testing.T) {
	lib := &fakeLibrary{}
	h, _, mux := newTestHandler(t, lib)

	rec := do(t, mux, http.MethodPost, "/api/preload", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	h.Wait()

	st := getState(t, mux)
	assert.True(t, st.Preload.Preloaded)
	assert.False(t, st.Preload.Running)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 50, st.Progress.Percent)

	// already preloaded: no new library call
	do(t, mux, http.MethodPost, "/api/preload", nil, "")
	h.Wait()
	assert.Equal(t, 1, lib.preloadCalls())
}

func TestPreloadFailureKeepsButtonActionable(t *testing.T) {
	lib := &fakeLibrary{preloadErr: errors.New("network down")}
	h, _, mux := newTestHandler(t, lib)

	do(t, mux, http.MethodPost, "/api/preload", nil, "")
	h.Wait()

	st := getState(t, mux)
	assert.False(t, st.Preload.Preloaded)
	assert.False(t, st.Preload.Running)
	assert.Nil(t, st.Session, "a preload failure never touches the session")

	do(t, mux, http.MethodPost, "/api/preload", nil, "")
	h.Wait()
	assert.Equal(t, 2, lib.preloadCalls())
}

func TestStaticAndHealthcheck(t *testing.T) {
	_, _, mux := newTestHandler(t, &fakeLibrary{})

	page := do(t, mux, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Background Remover")

	// the before/after panel is the drop target and is always rendered
	body := page.Body.String()
	stage := strings.Index(body, `<div id="stage">`)
	panes := strings.Index(body, `id="panes"`)
	require.NotEqual(t, -1, stage)
	assert.Less(t, stage, panes)
	assert.Contains(t, body, `$("stage")`)
	assert.NotContains(t, body, `id="drop"`)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/missing.js", nil, "").Code)
	assert.Equal(t, "OK", do(t, mux, http.MethodGet, "/healthcheck", nil, "").Body.String())
}

func TestEventsStream(t *testing.T) {
	h, _, mux := newTestHandler(t, &fakeLibrary{})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() models.Event {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev models.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := read()
	assert.Equal(t, models.EventState, first.Type)
	require.NotNil(t, first.State)
	assert.Nil(t, first.State.Session)

	body, ct := multipartBody(t, part{name: "cat.png", contentType: "image/png", data: "png"})
	resp, err := http.Post(srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// session signals coalesce, so wait for the completed state
	for {
		ev := read()
		if ev.Type == models.EventSession && ev.Session != nil && ev.Session.Status == session.StatusCompleted {
			assert.Equal(t, "cat_no_bg.png", ev.Session.DownloadName)
			break
		}
	}
}
