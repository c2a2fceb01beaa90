package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestParseRegistry(t *testing.T) {
	input := `# toolchain archives
python-3.12.1.tar.gz sha256:aaaa
build-1.2.0.whl sha256:bbbb
`
	reg, err := ParseRegistry(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())

	digest, ok := reg.Lookup("python-3.12.1.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "aaaa", digest)

	_, ok = reg.Lookup("missing.tar.gz")
	assert.False(t, ok)

	assert.Equal(t, []string{"build-1.2.0.whl", "python-3.12.1.tar.gz"}, reg.Names())
}

func TestParseRegistry_MalformedLine(t *testing.T) {
	_, err := ParseRegistry(strings.NewReader("python.tar.gz md5:nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sha256:")
}

func TestLoadRegistryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.tar.gz sha256:1234\n"), 0644))

	reg, err := LoadRegistryFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestLoadRegistryFile_Missing(t *testing.T) {
	_, err := LoadRegistryFile(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open checksum registry")
}

func TestFetcher_Fetch(t *testing.T) {
	content := []byte("toolchain archive bytes")

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/python-3.12.1.tar.gz", r.URL.Path)
		w.Write(content)
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Add("python-3.12.1.tar.gz", sha256Hex(content))

	cacheDir := t.TempDir()
	fetcher := NewFetcher(server.URL, cacheDir, reg)

	path, err := fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "python-3.12.1.tar.gz"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	// Second fetch hits the cache, not the server.
	_, err = fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	assert.True(t, fetcher.IsCached("python-3.12.1.tar.gz"))
}

func TestFetcher_UnknownName(t *testing.T) {
	fetcher := NewFetcher("http://unused.invalid", t.TempDir(), NewRegistry())

	_, err := fetcher.Fetch(context.Background(), "unknown.tar.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the checksum registry")
}

func TestFetcher_RejectsPathName(t *testing.T) {
	reg := NewRegistry()
	reg.Add("sub/evil.tar.gz", "abcd")

	fetcher := NewFetcher("http://unused.invalid", t.TempDir(), reg)

	_, err := fetcher.Fetch(context.Background(), "sub/evil.tar.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid registry name")
}

func TestFetcher_DigestMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered content"))
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Add("python-3.12.1.tar.gz", sha256Hex([]byte("expected content")))

	cacheDir := t.TempDir()
	fetcher := NewFetcher(server.URL, cacheDir, reg)

	_, err := fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")

	// Nothing should be left in the cache: no file, no temp droppings.
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, strings.HasSuffix(entry.Name(), ".lock"),
			"unexpected cache entry %s", entry.Name())
	}
}

func TestFetcher_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Add("python-3.12.1.tar.gz", "abcd")

	fetcher := NewFetcher(server.URL, t.TempDir(), reg)

	_, err := fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetcher_RedownloadsCorruptedCache(t *testing.T) {
	content := []byte("pristine content")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Add("python-3.12.1.tar.gz", sha256Hex(content))

	cacheDir := t.TempDir()
	cachePath := filepath.Join(cacheDir, "python-3.12.1.tar.gz")
	require.NoError(t, os.WriteFile(cachePath, []byte("corrupted"), 0644))

	fetcher := NewFetcher(server.URL, cacheDir, reg)
	assert.False(t, fetcher.IsCached("python-3.12.1.tar.gz"))

	path, err := fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetcher_Progress(t *testing.T) {
	content := []byte(strings.Repeat("x", 4096))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer server.Close()

	reg := NewRegistry()
	reg.Add("python-3.12.1.tar.gz", sha256Hex(content))

	fetcher := NewFetcher(server.URL, t.TempDir(), reg)

	var lastDone, lastTotal int64
	fetcher.OnProgress = func(name string, done, total int64) {
		assert.Equal(t, "python-3.12.1.tar.gz", name)
		lastDone = done
		lastTotal = total
	}

	_, err := fetcher.Fetch(context.Background(), "python-3.12.1.tar.gz")
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), lastDone)
	assert.Equal(t, int64(len(content)), lastTotal)
}
