// Package distcheck validates distribution metadata natively: it opens
// the built sdist and wheel, extracts their core metadata, and checks
// the fields a package index would reject at upload time. Failures are
// structured errors instead of an external tool's exit code.
package distcheck

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"regexp"
	"strings"
)

// Metadata is the subset of core metadata distcheck cares about
type Metadata struct {
	MetadataVersion        string // Metadata-Version header
	Name                   string // Distribution name
	Version                string // Distribution version
	Summary                string
	Description            string // Long description attached at upload time
	DescriptionContentType string // text/plain, text/x-rst, or text/markdown
	HasDescription         bool   // Long description present (header or body)
}

// Report is the combined result of checking a release's artifacts
type Report struct {
	Sdist *Metadata
	Wheel *Metadata
}

// acceptedContentTypes for the long description; parameters after ';'
// (charset, variant) are ignored during the check
var acceptedContentTypes = map[string]bool{
	"text/plain":    true,
	"text/x-rst":    true,
	"text/markdown": true,
}

// versionPattern is a deliberately permissive version shape: digits and
// dot-separated segments with optional pre/post/dev/local parts
var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*((a|b|rc)[0-9]+)?(\.post[0-9]+)?(\.dev[0-9]+)?(\+[0-9a-zA-Z.]+)?$`)

// CheckAll validates both artifacts and their agreement. When
// expectedVersion is non-empty (the run was triggered by a tagged
// release) both artifacts must carry exactly that version.
func CheckAll(sdistPath, wheelPath, expectedVersion string) (*Report, error) {
	sdistMeta, err := CheckSdist(sdistPath)
	if err != nil {
		return nil, fmt.Errorf("sdist: %w", err)
	}
	wheelMeta, err := CheckWheel(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("wheel: %w", err)
	}

	if NormalizeName(sdistMeta.Name) != NormalizeName(wheelMeta.Name) {
		return nil, fmt.Errorf("sdist and wheel disagree on name: %q vs %q",
			sdistMeta.Name, wheelMeta.Name)
	}
	if sdistMeta.Version != wheelMeta.Version {
		return nil, fmt.Errorf("sdist and wheel disagree on version: %q vs %q",
			sdistMeta.Version, wheelMeta.Version)
	}
	if expectedVersion != "" && sdistMeta.Version != expectedVersion {
		return nil, fmt.Errorf("built version %q does not match release tag version %q",
			sdistMeta.Version, expectedVersion)
	}

	return &Report{Sdist: sdistMeta, Wheel: wheelMeta}, nil
}

// parseMetadata reads an RFC 822 style metadata file (PKG-INFO or
// METADATA): headers, a blank line, then an optional long description
// body.
func parseMetadata(r io.Reader) (*Metadata, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	header, err := tp.ReadMIMEHeader()
	// EOF right after the headers is fine; metadata files without a body
	// routinely omit the trailing blank line
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse metadata headers: %w", err)
	}

	meta := &Metadata{
		MetadataVersion:        header.Get("Metadata-Version"),
		Name:                   header.Get("Name"),
		Version:                header.Get("Version"),
		Summary:                header.Get("Summary"),
		DescriptionContentType: header.Get("Description-Content-Type"),
		HasDescription:         header.Get("Description") != "",
	}

	// A body after the blank line is the long description
	if !meta.HasDescription {
		var buf [1]byte
		if n, _ := tp.R.Read(buf[:]); n > 0 {
			meta.HasDescription = true
		}
	}

	return meta, validateFields(meta)
}

// validateFields applies the checks an index performs on receipt
func validateFields(meta *Metadata) error {
	if meta.MetadataVersion == "" {
		return fmt.Errorf("missing required field Metadata-Version")
	}
	if meta.Name == "" {
		return fmt.Errorf("missing required field Name")
	}
	if meta.Version == "" {
		return fmt.Errorf("missing required field Version")
	}
	if !versionPattern.MatchString(meta.Version) {
		return fmt.Errorf("invalid version %q", meta.Version)
	}

	if meta.HasDescription && meta.DescriptionContentType != "" {
		contentType := strings.TrimSpace(strings.Split(meta.DescriptionContentType, ";")[0])
		if !acceptedContentTypes[strings.ToLower(contentType)] {
			return fmt.Errorf("unknown Description-Content-Type %q", meta.DescriptionContentType)
		}
	}
	return nil
}

// NormalizeName applies distribution name normalization: lowercase with
// runs of hyphen, underscore, and dot collapsed to a single hyphen.
// Filenames escape names differently than metadata does, so comparisons
// go through this form.
func NormalizeName(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
			continue
		}
		lastDash = false
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "-")
}
