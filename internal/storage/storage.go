package storage

import (
	"strings"
	"sync"

	"github.com/segmentio/ksuid"
)

// Prefix is the URL path under which blobs are served.
const Prefix = "/blobs/"

// Blob is an in-memory image owned by whoever holds its handle.
type Blob struct {
	Data     []byte
	MIMEType string
}

// BlobStore hands out revocable handles to in-memory bytes. A handle stays
// valid until it is released.
type BlobStore struct {
	blobs map[string]Blob
	mu    sync.RWMutex
}

func New() *BlobStore {
	return &BlobStore{
		blobs: make(map[string]Blob),
	}
}

// Put stores data and returns its handle, a URL path under Prefix.
func (s *BlobStore) Put(data []byte, mimeType string) string {
	handle := Prefix + ksuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[handle] = Blob{Data: data, MIMEType: mimeType}
	return handle
}

func (s *BlobStore) Get(handle string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, exists := s.blobs[handle]
	return blob, exists
}

// Release revokes handle. Unknown and already released handles are ignored.
func (s *BlobStore) Release(handle string) {
	if handle == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, handle)
}

// Len reports the number of live handles.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// IsHandle reports whether path looks like a blob handle.
func IsHandle(path string) bool {
	return strings.HasPrefix(path, Prefix) && len(path) > len(Prefix)
}
