package distcheck

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// CheckSdist opens a source distribution (tar.gz), locates the
// top-level <name>-<version>/PKG-INFO entry, parses it, and verifies
// the directory prefix and filename agree with the metadata.
func CheckSdist(sdistPath string) (*Metadata, error) {
	base := path.Base(sdistPath)
	fileName, fileVersion, err := parseSdistFilename(base)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(sdistPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sdist %s: %w", base, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("sdist %s is not gzip compressed: %w", base, err)
	}
	defer gz.Close()

	wantPrefix := fileName + "-" + fileVersion
	var meta *Metadata

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sdist archive: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		parts := strings.SplitN(name, "/", 2)
		if parts[0] != wantPrefix {
			return nil, fmt.Errorf("sdist entry %q outside expected directory %s/", name, wantPrefix)
		}
		if len(parts) == 2 && parts[1] == "PKG-INFO" {
			meta, err = parseMetadata(tr)
			if err != nil {
				return nil, err
			}
		}
	}

	if meta == nil {
		return nil, fmt.Errorf("sdist has no %s/PKG-INFO", wantPrefix)
	}

	if NormalizeName(fileName) != NormalizeName(meta.Name) {
		return nil, fmt.Errorf("sdist filename name %q does not match metadata name %q",
			fileName, meta.Name)
	}
	if fileVersion != meta.Version {
		return nil, fmt.Errorf("sdist filename version %q does not match metadata version %q",
			fileVersion, meta.Version)
	}

	return meta, nil
}

// parseSdistFilename splits {name}-{version}.tar.gz on the last dash, the
// convention current build backends emit (names escape inner dashes to
// underscores)
func parseSdistFilename(filename string) (name, version string, err error) {
	base, ok := strings.CutSuffix(filename, ".tar.gz")
	if !ok {
		return "", "", fmt.Errorf("not an sdist filename: %s", filename)
	}

	idx := strings.LastIndex(base, "-")
	if idx <= 0 || idx == len(base)-1 {
		return "", "", fmt.Errorf("malformed sdist filename %s: want <name>-<version>.tar.gz", filename)
	}
	return base[:idx], base[idx+1:], nil
}
