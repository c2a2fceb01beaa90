package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/slipway-ci/slipway/internal/artifact"
)

// ListIndexLinks extracts href targets from an HTML directory index,
// keeping only links that end with the given suffix. An empty suffix
// keeps every link. Links are returned in document order, deduplicated.
func ListIndexLinks(r io.Reader, suffix string) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index page: %w", err)
	}

	var links []string
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" || attr.Val == "" {
					continue
				}
				if suffix != "" && !strings.HasSuffix(attr.Val, suffix) {
					continue
				}
				if !seen[attr.Val] {
					seen[attr.Val] = true
					links = append(links, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

// CreateRegistryFromDirectory hashes every matching file in a directory
// and renders registry lines for them. suffixes filters which files are
// included; an empty list includes every regular file. Dotfiles are
// always skipped. The output parses back with ParseRegistry.
func CreateRegistryFromDirectory(dir string, suffixes []string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []artifact.Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !matchesSuffix(entry.Name(), suffixes) {
			continue
		}

		digest, err := artifact.HashFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, artifact.Artifact{Name: entry.Name(), SHA256: digest})
	}

	return artifact.FormatManifest(files), nil
}

// matchesSuffix reports whether name ends with one of the suffixes.
// An empty suffix list matches everything.
func matchesSuffix(name string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
