package distcheck

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
)

// CheckWheel opens a wheel (zip archive), locates its single
// *.dist-info/METADATA entry, parses it, and verifies the filename
// encodes the same name and version the metadata carries.
func CheckWheel(wheelPath string) (*Metadata, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open wheel %s: %w", path.Base(wheelPath), err)
	}
	defer zr.Close()

	// Exactly one top-level *.dist-info directory is allowed
	distInfoDirs := make(map[string]bool)
	var metadataFile *zip.File
	for _, f := range zr.File {
		parts := strings.SplitN(f.Name, "/", 2)
		if len(parts) < 2 || !strings.HasSuffix(parts[0], ".dist-info") {
			continue
		}
		distInfoDirs[parts[0]] = true
		if parts[1] == "METADATA" {
			metadataFile = f
		}
	}

	switch len(distInfoDirs) {
	case 0:
		return nil, fmt.Errorf("no .dist-info directory in wheel")
	case 1:
		// expected
	default:
		names := make([]string, 0, len(distInfoDirs))
		for name := range distInfoDirs {
			names = append(names, name)
		}
		return nil, fmt.Errorf("multiple .dist-info directories in wheel: %s", strings.Join(names, ", "))
	}
	if metadataFile == nil {
		return nil, fmt.Errorf("wheel has no METADATA file")
	}

	rc, err := metadataFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open wheel METADATA: %w", err)
	}
	defer rc.Close()

	meta, err := parseMetadata(rc)
	if err != nil {
		return nil, err
	}

	fileName, fileVersion, err := parseWheelFilename(path.Base(wheelPath))
	if err != nil {
		return nil, err
	}
	if NormalizeName(fileName) != NormalizeName(meta.Name) {
		return nil, fmt.Errorf("wheel filename name %q does not match metadata name %q",
			fileName, meta.Name)
	}
	if fileVersion != meta.Version {
		return nil, fmt.Errorf("wheel filename version %q does not match metadata version %q",
			fileVersion, meta.Version)
	}

	return meta, nil
}

// parseWheelFilename splits {distribution}-{version}(-{build})?-{python}-{abi}-{platform}.whl
func parseWheelFilename(filename string) (name, version string, err error) {
	base, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return "", "", fmt.Errorf("not a wheel filename: %s", filename)
	}

	parts := strings.Split(base, "-")
	// 5 segments without a build tag, 6 with one
	if len(parts) != 5 && len(parts) != 6 {
		return "", "", fmt.Errorf("malformed wheel filename %s: want 5 or 6 dash-separated segments, got %d",
			filename, len(parts))
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed wheel filename %s: empty name or version", filename)
	}
	return parts[0], parts[1], nil
}

// WheelPythonTag extracts the python tag from a wheel filename,
// e.g. "py3" from example-1.2.3-py3-none-any.whl. The tag is always
// the third segment from the end, whether or not a build tag is present.
func WheelPythonTag(filename string) (string, error) {
	base, ok := strings.CutSuffix(filename, ".whl")
	if !ok {
		return "", fmt.Errorf("not a wheel filename: %s", filename)
	}

	parts := strings.Split(base, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return "", fmt.Errorf("malformed wheel filename %s: want 5 or 6 dash-separated segments, got %d",
			filename, len(parts))
	}
	return parts[len(parts)-3], nil
}
