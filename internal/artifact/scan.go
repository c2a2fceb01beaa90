package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scan collects every regular file in a dist directory into an Artifact
// with its kind, size, and sha256. The scan is non-recursive: build
// tools write distributions flat into dist/. Dotfiles are ignored.
func Scan(dir string) ([]Artifact, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access dist directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dist path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dist directory: %w", err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}

		fi, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}

		digest, err := HashFile(absPath)
		if err != nil {
			return nil, err
		}

		artifacts = append(artifacts, Artifact{
			Name:   entry.Name(),
			Path:   absPath,
			Kind:   Classify(entry.Name()),
			Size:   fi.Size(),
			SHA256: digest,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

// HashFile streams a file through sha256 and returns the hex digest
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
