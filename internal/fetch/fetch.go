// Package fetch downloads remote files into a local cache, verifying
// every download against a checksum registry before it is used.
//
// A registry is a plain text file of "<name> sha256:<hex>" lines. Files
// are fetched at most once: cache hits are verified and reused, and a
// per-file lock keeps concurrent runs from downloading the same file
// twice or observing partial writes.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/filelock"
)

// Default bounds for downloads. The HTTP timeout covers the whole
// response body, so it is sized for large toolchain archives.
const (
	defaultHTTPTimeout = 10 * time.Minute
	defaultLockTimeout = 5 * time.Minute
)

// Registry maps file names to their expected sha256 digests.
type Registry struct {
	entries map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// ParseRegistry reads registry lines from r.
// Lines have the form "<name> sha256:<hex>"; blank lines and # comments are ignored.
func ParseRegistry(r io.Reader) (*Registry, error) {
	entries, err := artifact.ParseManifest(r)
	if err != nil {
		return nil, err
	}
	return &Registry{entries: entries}, nil
}

// LoadRegistryFile reads a registry from a file on disk.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checksum registry: %w", err)
	}
	defer f.Close()

	reg, err := ParseRegistry(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checksum registry %s: %w", path, err)
	}
	return reg, nil
}

// Add records the expected digest for a file name.
func (r *Registry) Add(name, digest string) {
	r.entries[name] = digest
}

// Lookup returns the expected digest for a file name.
func (r *Registry) Lookup(name string) (string, bool) {
	digest, ok := r.entries[name]
	return digest, ok
}

// Names returns all registered file names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Fetcher downloads registered files from a base URL into a cache directory.
type Fetcher struct {
	baseURL  string
	cacheDir string
	registry *Registry
	client   *http.Client

	// lockTimeout bounds how long Fetch waits for another process
	// downloading the same file.
	lockTimeout time.Duration

	// OnProgress, when set, is called as download bytes arrive.
	// total is -1 when the server does not report a content length.
	OnProgress func(name string, done, total int64)
}

// NewFetcher creates a Fetcher for the given base URL and cache directory.
// Every fetched file must have an entry in the registry.
func NewFetcher(baseURL, cacheDir string, registry *Registry) *Fetcher {
	return &Fetcher{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		cacheDir:    cacheDir,
		registry:    registry,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		lockTimeout: defaultLockTimeout,
	}
}

// SetClient replaces the HTTP client. Useful for tests and custom transports.
func (f *Fetcher) SetClient(client *http.Client) {
	f.client = client
}

// IsCached reports whether name is present in the cache with a matching digest.
func (f *Fetcher) IsCached(name string) bool {
	digest, ok := f.registry.Lookup(name)
	if !ok {
		return false
	}
	return verifyDigest(filepath.Join(f.cacheDir, name), digest) == nil
}

// Fetch returns the local path of a registered file, downloading it
// into the cache first if needed. The download is verified against the
// registry digest before the file becomes visible in the cache; a
// digest mismatch leaves the cache untouched and returns an error.
func (f *Fetcher) Fetch(ctx context.Context, name string) (string, error) {
	digest, ok := f.registry.Lookup(name)
	if !ok {
		return "", fmt.Errorf("file %s is not in the checksum registry", name)
	}

	// Registry names are plain file names, never paths.
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid registry name %q", name)
	}

	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	cachePath := filepath.Join(f.cacheDir, name)

	// Fast path: already cached and intact.
	if err := verifyDigest(cachePath, digest); err == nil {
		return cachePath, nil
	}

	// Serialize downloads of the same file across processes.
	lock := filelock.New(cachePath + ".lock")
	if err := lock.LockWithTimeout(f.lockTimeout); err != nil {
		return "", fmt.Errorf("failed to acquire download lock for %s: %w", name, err)
	}
	defer lock.Unlock()

	// Another process may have completed the download while we waited.
	if err := verifyDigest(cachePath, digest); err == nil {
		return cachePath, nil
	}

	if err := f.download(ctx, name, cachePath, digest); err != nil {
		return "", err
	}
	return cachePath, nil
}

// download streams the remote file to a temp file, verifies its digest,
// and renames it into place.
func (f *Fetcher) download(ctx context.Context, name, cachePath, digest string) error {
	url := f.baseURL + "/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.cacheDir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	hash := sha256.New()
	writer := io.MultiWriter(tmp, hash)

	var reader io.Reader = resp.Body
	if f.OnProgress != nil {
		reader = &progressReader{
			inner: resp.Body,
			total: resp.ContentLength,
			report: func(done, total int64) {
				f.OnProgress(name, done, total)
			},
		}
	}

	if _, err := io.Copy(writer, reader); err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}

	got := hex.EncodeToString(hash.Sum(nil))
	if got != digest {
		return fmt.Errorf("digest mismatch for %s: want sha256:%s, got sha256:%s", name, digest, got)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, cachePath); err != nil {
		return fmt.Errorf("failed to move download into cache: %w", err)
	}

	// Rename succeeded; disarm cleanup.
	tmpName = ""
	return nil
}

// verifyDigest checks a file on disk against an expected sha256 hex digest.
func verifyDigest(path, digest string) error {
	got, err := artifact.HashFile(path)
	if err != nil {
		return err
	}
	if got != digest {
		return fmt.Errorf("digest mismatch for %s: want sha256:%s, got sha256:%s", path, digest, got)
	}
	return nil
}

// progressReader reports cumulative read progress as bytes flow through.
type progressReader struct {
	inner  io.Reader
	done   int64
	total  int64
	report func(done, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.inner.Read(p)
	if n > 0 {
		pr.done += int64(n)
		pr.report(pr.done, pr.total)
	}
	return n, err
}
