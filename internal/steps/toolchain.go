package steps

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/fetch"
	"github.com/slipway-ci/slipway/internal/filelock"
	"github.com/slipway-ci/slipway/internal/logger"
)

// ToolchainOptions configures the toolchain builtin.
type ToolchainOptions struct {
	Name    string `mapstructure:"name"`    // Toolchain name, e.g. python
	Version string `mapstructure:"version"` // Exact version, e.g. 3.12.1
}

// Toolchain downloads a toolchain archive, verifies it against the
// checksum registry, unpacks it into the cache, and prepends its bin
// directory to PATH for the rest of the run.
type Toolchain struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
}

func (t *Toolchain) Name() string { return "toolchain" }

func (t *Toolchain) RequiredGrants() []executor.GrantRequirement { return nil }

func (t *Toolchain) Execute(ctx context.Context, sc *executor.StepContext) error {
	var opts ToolchainOptions
	if err := decodeWith(sc.With, &opts); err != nil {
		return err
	}
	if opts.Name == "" || opts.Version == "" {
		return errors.New("toolchain: both name and version are required")
	}

	archive := fmt.Sprintf("%s-%s.tar.gz", opts.Name, opts.Version)
	installDir := filepath.Join(t.cfg.CacheDir, "toolchains", fmt.Sprintf("%s-%s", opts.Name, opts.Version))
	binDir := filepath.Join(installDir, "bin")

	if sc.DryRun {
		sc.Logger.LogInfo(fmt.Sprintf("[dry-run] would install toolchain %s %s from %s", opts.Name, opts.Version, archive))
		sc.State.PrependPath(binDir)
		return nil
	}

	fetcher := t.fetcher
	if fetcher == nil {
		registry, err := fetch.LoadRegistryFile(t.cfg.ChecksumRegistry)
		if err != nil {
			return fmt.Errorf("toolchain: %w", err)
		}
		if t.cfg.ToolchainBaseURL == "" {
			return errors.New("toolchain: toolchain_base_url is not configured")
		}
		fetcher = fetch.NewFetcher(t.cfg.ToolchainBaseURL, filepath.Join(t.cfg.CacheDir, "downloads"), registry)
		fetcher.OnProgress = logger.DownloadProgress(os.Stdout)
	}

	archivePath, err := fetcher.Fetch(ctx, archive)
	if err != nil {
		return fmt.Errorf("toolchain: %w", err)
	}

	if err := t.unpackOnce(archivePath, installDir); err != nil {
		return fmt.Errorf("toolchain: %w", err)
	}

	sc.State.PrependPath(binDir)
	sc.Logger.LogInfo(fmt.Sprintf("Toolchain %s %s ready at %s", opts.Name, opts.Version, installDir))
	return nil
}

// unpackOnce extracts the archive into installDir unless a previous run
// already did. Extraction happens into a staging directory that is
// renamed into place, so a crash never leaves a half-unpacked install.
func (t *Toolchain) unpackOnce(archivePath, installDir string) error {
	if _, err := os.Stat(installDir); err == nil {
		return nil
	}

	lock := filelock.New(installDir + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire unpack lock: %w", err)
	}
	defer lock.Unlock()

	// Another process may have unpacked while we waited.
	if _, err := os.Stat(installDir); err == nil {
		return nil
	}

	staging := installDir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := extractTarGz(archivePath, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	return os.Rename(staging, installDir)
}

// extractTarGz unpacks a gzipped tarball into dest. Entries that would
// escape dest are rejected. A single top-level directory wrapping the
// whole archive is stripped so dest/bin exists regardless of layout.
func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("archive is not gzip: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	prefix := ""
	prefixKnown := false

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." {
			continue
		}
		if name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry %q escapes the destination", hdr.Name)
		}

		// Detect a single wrapping directory from the first entry.
		if !prefixKnown {
			prefixKnown = true
			if i := strings.IndexByte(name, filepath.Separator); i > 0 || hdr.Typeflag == tar.TypeDir {
				if i > 0 {
					prefix = name[:i]
				} else {
					prefix = name
				}
			}
		}
		if prefix != "" {
			if name == prefix {
				continue
			}
			stripped, ok := strings.CutPrefix(name, prefix+string(filepath.Separator))
			if !ok {
				prefix = "" // mixed top level, keep everything
			} else {
				name = stripped
			}
		}

		target := filepath.Join(dest, name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes the destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// The link target must stay inside the destination too.
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("archive symlink %q points outside the destination", hdr.Name)
			}
			resolved := filepath.Clean(filepath.Join(filepath.Dir(name), hdr.Linkname))
			if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
				return fmt.Errorf("archive symlink %q points outside the destination", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// Hard links, devices and the like have no place in a
			// toolchain archive.
			return fmt.Errorf("archive entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
	return nil
}
