package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ManifestName is fetched from <base>/<model>/ before any asset.
const ManifestName = "resources.json"

const partSuffix = ".part"

var ErrChecksum = errors.New("checksum mismatch")

// ProgressFunc matches the removal progress callback.
type ProgressFunc func(key string, current, total int64)

// Manifest lists the files a model needs.
type Manifest struct {
	Model  string  `json:"model"`
	Assets []Asset `json:"assets"`
}

// Asset is a single weight file or auxiliary resource.
type Asset struct {
	Key    string `json:"key"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// Fetcher downloads model assets into a local cache
type Fetcher struct {
	HTTPClient  *http.Client
	BaseURL     string
	CacheDir    string
	Concurrency int

	flights singleflight.Group

	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]ProgressFunc
}

// NewFetcher creates a fetcher for assets published under baseURL
func NewFetcher(baseURL, cacheDir string, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		// no overall timeout: weight files are large; callers bound the context
		HTTPClient:  &http.Client{},
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		CacheDir:    cacheDir,
		Concurrency: concurrency,
		listeners:   make(map[string]map[int]ProgressFunc),
	}
}

// ModelDir is where the assets of model are stored.
func (f *Fetcher) ModelDir(model string) string {
	return filepath.Join(f.CacheDir, filepath.Base(model))
}

// Fetch makes sure every asset of model is cached and returns the model
// directory. Already cached assets are not downloaded again. Concurrent
// calls for the same model share one download and all receive its
// progress.
func (f *Fetcher) Fetch(ctx context.Context, model string, progress ProgressFunc) (string, error) {
	if progress != nil {
		defer f.listen(model, progress)()
	}

	dir, err, _ := f.flights.Do(model, func() (any, error) {
		return f.fetch(ctx, model)
	})
	if err != nil {
		return "", err
	}
	return dir.(string), nil
}

// listen registers progress for model and returns its removal.
func (f *Fetcher) listen(model string, progress ProgressFunc) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.listeners == nil {
		f.listeners = make(map[string]map[int]ProgressFunc)
	}
	if f.listeners[model] == nil {
		f.listeners[model] = make(map[int]ProgressFunc)
	}
	f.listeners[model][id] = progress
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[model], id)
		if len(f.listeners[model]) == 0 {
			delete(f.listeners, model)
		}
	}
}

func (f *Fetcher) report(model string) ProgressFunc {
	return func(key string, current, total int64) {
		f.mu.Lock()
		targets := make([]ProgressFunc, 0, len(f.listeners[model]))
		for _, fn := range f.listeners[model] {
			targets = append(targets, fn)
		}
		f.mu.Unlock()
		for _, fn := range targets {
			fn(key, current, total)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, model string) (string, error) {
	dir := f.ModelDir(model)

	manifest, err := f.manifest(ctx, model)
	if err != nil {
		cached, cacheErr := f.cachedManifest(dir)
		if cacheErr != nil || !complete(dir, cached) {
			return "", err
		}
		slog.Warn("Asset source unavailable, using cached assets", "model", model, "err", err)
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	progress := f.report(model)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)
	for _, asset := range manifest.Assets {
		g.Go(func() error {
			return f.fetchAsset(gctx, model, dir, asset, progress)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if err := saveManifest(dir, manifest); err != nil {
		slog.Warn("Unable to cache manifest", "model", model, "err", err)
	}

	slog.Debug("Model assets ready", "model", model, "dir", dir, "assets", len(manifest.Assets))
	return dir, nil
}

func (f *Fetcher) cachedManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode cached manifest: %w", err)
	}
	return &manifest, nil
}

func saveManifest(dir string, manifest *Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ManifestName+".*"+partSuffix)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, ManifestName))
}

// complete reports whether every asset of manifest is cached in dir.
func complete(dir string, manifest *Manifest) bool {
	for _, asset := range manifest.Assets {
		target, err := localPath(dir, asset.Path)
		if err != nil || !cached(target, asset) {
			return false
		}
	}
	return true
}

func cached(target string, asset Asset) bool {
	info, err := os.Stat(target)
	return err == nil && !info.IsDir() && (asset.Size <= 0 || info.Size() == asset.Size)
}

func (f *Fetcher) manifest(ctx context.Context, model string) (*Manifest, error) {
	url := fmt.Sprintf("%s/%s/%s", f.BaseURL, model, ManifestName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest for %s returned status %d", model, resp.StatusCode)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for _, asset := range manifest.Assets {
		if _, err := localPath("", asset.Path); err != nil {
			return nil, err
		}
	}
	return &manifest, nil
}

func (f *Fetcher) fetchAsset(ctx context.Context, model, dir string, asset Asset, progress ProgressFunc) error {
	target, err := localPath(dir, asset.Path)
	if err != nil {
		return err
	}
	key := asset.Key
	if key == "" {
		key = asset.Path
	}

	if cached(target, asset) {
		slog.Debug("Asset already cached", "key", key, "path", target)
		return nil
	}

	url := fmt.Sprintf("%s/%s/%s", f.BaseURL, model, strings.TrimPrefix(asset.Path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", key, err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset %s returned status %d", key, resp.StatusCode)
	}

	total := asset.Size
	if total <= 0 {
		total = resp.ContentLength
	}
	if total < 0 {
		total = 0
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	out, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*"+partSuffix)
	if err != nil {
		return fmt.Errorf("failed to create partial file for %s: %w", key, err)
	}
	part := out.Name()

	hash := sha256.New()
	counter := &progressWriter{key: key, total: total, report: progress}
	progress(key, 0, total)
	_, err = io.Copy(io.MultiWriter(out, hash, counter), resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("failed to download %s: %w", key, err)
	}

	if asset.SHA256 != "" {
		if sum := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(sum, asset.SHA256) {
			_ = os.Remove(part)
			return fmt.Errorf("%s: %w", key, ErrChecksum)
		}
	}

	if err := os.Rename(part, target); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	slog.Info("Downloaded asset", "key", key, "bytes", counter.current)
	return nil
}

// SweepPartials removes interrupted downloads older than maxAge.
func (f *Fetcher) SweepPartials(maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	err := filepath.WalkDir(f.CacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, partSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// localPath joins an asset path onto dir, refusing paths that escape it.
func localPath(dir, assetPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(assetPath, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid asset path %q", assetPath)
	}
	return filepath.Join(dir, clean), nil
}

type progressWriter struct {
	key     string
	current int64
	total   int64
	report  ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.current += int64(len(p))
	w.report(w.key, w.current, w.total)
	return len(p), nil
}
