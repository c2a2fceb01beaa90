package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"example-1.2.3-py3-none-any.whl", KindWheel},
		{"example-1.2.3.tar.gz", KindSdist},
		{"example-1.2.3.zip", KindSdist},
		{"EXAMPLE-1.2.3.WHL", KindWheel},
		{"notes.txt", KindUnknown},
		{"example-1.2.3.tar", KindUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestExactlyOneEach(t *testing.T) {
	tests := []struct {
		name      string
		artifacts []Artifact
		wantErr   string
	}{
		{
			name: "one of each",
			artifacts: []Artifact{
				{Name: "a.tar.gz", Kind: KindSdist},
				{Name: "a.whl", Kind: KindWheel},
			},
		},
		{
			name: "missing wheel",
			artifacts: []Artifact{
				{Name: "a.tar.gz", Kind: KindSdist},
			},
			wantErr: "want exactly 1 wheel, found 0",
		},
		{
			name: "two sdists",
			artifacts: []Artifact{
				{Name: "a.tar.gz", Kind: KindSdist},
				{Name: "b.tar.gz", Kind: KindSdist},
				{Name: "a.whl", Kind: KindWheel},
			},
			wantErr: "want exactly 1 sdist, found 2",
		},
		{
			name: "stray file",
			artifacts: []Artifact{
				{Name: "a.tar.gz", Kind: KindSdist},
				{Name: "a.whl", Kind: KindWheel},
				{Name: "build.log", Kind: KindUnknown},
			},
			wantErr: "unclassifiable files in dist [build.log]",
		},
		{
			name:    "empty dist",
			wantErr: "want exactly 1 sdist, found 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ExactlyOneEach(tt.artifacts)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	sdist := []byte("source distribution bytes")
	wheel := []byte("wheel bytes")
	if err := os.WriteFile(filepath.Join(dir, "example-1.0.0.tar.gz"), sdist, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "example-1.0.0-py3-none-any.whl"), wheel, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	artifacts, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}

	// Sorted by name: wheel (hyphen) sorts before tar.gz (dot)
	wheelArt := FindKind(artifacts, KindWheel)
	if wheelArt == nil {
		t.Fatal("wheel not found")
	}
	if wheelArt.Size != int64(len(wheel)) {
		t.Errorf("wheel size = %d, want %d", wheelArt.Size, len(wheel))
	}

	sum := sha256.Sum256(wheel)
	if wheelArt.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("wheel digest mismatch: %s", wheelArt.SHA256)
	}
	if !filepath.IsAbs(wheelArt.Path) {
		t.Errorf("artifact path should be absolute: %s", wheelArt.Path)
	}

	if err := ExactlyOneEach(artifacts); err != nil {
		t.Errorf("scan of a clean dist should satisfy the release rule: %v", err)
	}
}

func TestScan_MissingDir(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	artifacts := []Artifact{
		{Name: "example-1.0.0.tar.gz", SHA256: "aaa111"},
		{Name: "example-1.0.0-py3-none-any.whl", SHA256: "bbb222"},
	}

	manifest := FormatManifest(artifacts)
	text := string(manifest)
	if !strings.Contains(text, "example-1.0.0.tar.gz sha256:aaa111\n") {
		t.Errorf("manifest missing sdist line:\n%s", text)
	}

	entries, err := ParseManifest(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	if entries["example-1.0.0.tar.gz"] != "aaa111" {
		t.Errorf("unexpected sdist digest: %s", entries["example-1.0.0.tar.gz"])
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing digest prefix", "file.tar.gz deadbeef\n"},
		{"too many fields", "file.tar.gz sha256:aaa extra\n"},
		{"duplicate entry", "f sha256:a\nf sha256:b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest(strings.NewReader(tt.input)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseManifest_SkipsCommentsAndBlanks(t *testing.T) {
	input := "# release artifacts\n\nfile.whl sha256:abc\n"
	entries, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseManifest() error: %v", err)
	}
	if len(entries) != 1 || entries["file.whl"] != "abc" {
		t.Errorf("unexpected entries: %v", entries)
	}
}
