// Package artifact accounts for the distribution files a release run
// produces: classification, hashing, the one-sdist-one-wheel rule, and
// the checksum manifest.
package artifact

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Kind of a distribution artifact
type Kind string

const (
	// KindSdist is a source distribution (.tar.gz or .zip)
	KindSdist Kind = "sdist"
	// KindWheel is a built distribution (.whl)
	KindWheel Kind = "wheel"
	// KindUnknown is anything else found in the dist directory
	KindUnknown Kind = "unknown"
)

// Artifact is one file in the dist directory
type Artifact struct {
	Name   string // Base filename
	Path   string // Absolute path
	Kind   Kind   // sdist, wheel, or unknown
	Size   int64  // Size in bytes
	SHA256 string // Hex digest of the contents
}

// Classify determines the artifact kind from its filename
func Classify(name string) Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".whl"):
		return KindWheel
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".zip"):
		return KindSdist
	default:
		return KindUnknown
	}
}

// ExactlyOneEach enforces the release rule: exactly one sdist and exactly
// one wheel, nothing else. The error names every offending file so the
// build step can be fixed without re-running blind.
func ExactlyOneEach(artifacts []Artifact) error {
	var sdists, wheels, strays []string
	for _, a := range artifacts {
		switch a.Kind {
		case KindSdist:
			sdists = append(sdists, a.Name)
		case KindWheel:
			wheels = append(wheels, a.Name)
		default:
			strays = append(strays, a.Name)
		}
	}

	var problems []string
	if len(sdists) != 1 {
		problems = append(problems, fmt.Sprintf("want exactly 1 sdist, found %d [%s]",
			len(sdists), strings.Join(sdists, ", ")))
	}
	if len(wheels) != 1 {
		problems = append(problems, fmt.Sprintf("want exactly 1 wheel, found %d [%s]",
			len(wheels), strings.Join(wheels, ", ")))
	}
	if len(strays) > 0 {
		problems = append(problems, fmt.Sprintf("unclassifiable files in dist [%s]",
			strings.Join(strays, ", ")))
	}

	if len(problems) > 0 {
		return fmt.Errorf("dist contents violate the release rule: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FindKind returns the first artifact of the given kind, or nil
func FindKind(artifacts []Artifact, kind Kind) *Artifact {
	for i := range artifacts {
		if artifacts[i].Kind == kind {
			return &artifacts[i]
		}
	}
	return nil
}

// FormatManifest renders artifacts as checksum registry lines, one per
// file, sorted by name:
//
//	example-1.2.3.tar.gz sha256:9f86d08...
//	example-1.2.3-py3-none-any.whl sha256:60303ae...
func FormatManifest(artifacts []Artifact) []byte {
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, a := range sorted {
		fmt.Fprintf(&b, "%s sha256:%s\n", a.Name, a.SHA256)
	}
	return []byte(b.String())
}

// ParseManifest reads registry lines back into name -> digest entries.
// Blank lines and # comments are ignored.
func ParseManifest(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("manifest line %d: want \"<name> sha256:<hex>\", got %q", lineNo, line)
		}
		digest, ok := strings.CutPrefix(fields[1], "sha256:")
		if !ok || digest == "" {
			return nil, fmt.Errorf("manifest line %d: digest must start with sha256:, got %q", lineNo, fields[1])
		}
		if _, dup := entries[fields[0]]; dup {
			return nil, fmt.Errorf("manifest line %d: duplicate entry for %s", lineNo, fields[0])
		}
		entries[fields[0]] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return entries, nil
}
