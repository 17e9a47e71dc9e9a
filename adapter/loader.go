package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"
	"time"

	"atelier/util"

	"github.com/sirupsen/logrus"
)

// loadResult is one download flight for a URL. The once fills m and err; every
// caller that joined the flight reads the same outcome.
type loadResult struct {
	once sync.Once
	m    *Manifest
	err  error
}

// Loader fetches adapter archives at most once per URL for the lifetime of
// the process. Extracted archives stay on disk; parsed manifests are held in
// memory keyed by URL.
type Loader struct {
	cacheDir        string
	maxArchiveBytes int64
	downloadTimeout time.Duration

	mu      sync.Mutex
	results map[string]*loadResult
}

// NewLoader creates a Loader rooted at cacheDir
func NewLoader(cacheDir string, maxArchiveBytes int64, downloadTimeout time.Duration) *Loader {
	return &Loader{
		cacheDir:        cacheDir,
		maxArchiveBytes: maxArchiveBytes,
		downloadTimeout: downloadTimeout,
		results:         make(map[string]*loadResult),
	}
}

// Load returns the manifest for the adapter at url, downloading and
// extracting the archive on first use. Concurrent callers for the same URL
// share a single download and all receive its outcome.
func (l *Loader) Load(ctx context.Context, url string) (*Manifest, error) {
	l.mu.Lock()
	r, ok := l.results[url]
	if !ok {
		r = &loadResult{}
		l.results[url] = r
	}
	l.mu.Unlock()

	r.once.Do(func() {
		dir := filepath.Join(l.cacheDir, urlKey(url))
		var m *Manifest
		err := Download(ctx, url, dir, l.maxArchiveBytes, l.downloadTimeout)
		if err == nil {
			m, err = ReadManifest(dir)
		}

		l.mu.Lock()
		r.m, r.err = m, err
		l.mu.Unlock()

		if err == nil {
			util.LogInfo("Adapter loaded", logrus.Fields{
				"url":  url,
				"kind": m.Kind,
			})
		}
	})

	l.mu.Lock()
	m, err := r.m, r.err
	if err != nil && l.results[url] == r {
		// drop the failed flight so a later request can retry
		delete(l.results, url)
	}
	l.mu.Unlock()

	return m, err
}

// Cached reports whether the adapter at url is already loaded
func (l *Loader) Cached(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.results[url]
	return ok && r.m != nil
}

// urlKey derives a stable directory name from an archive URL
func urlKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
