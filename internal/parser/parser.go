package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/slipway-ci/slipway/internal/models"
)

// Parse reads a pipeline definition from an io.Reader. Decoding is
// strict: unknown keys are rejected so a typo like `step:` for `steps:`
// fails at load time instead of silently dropping work.
func Parse(r io.Reader) (*models.Pipeline, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var pipeline models.Pipeline
	if err := dec.Decode(&pipeline); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty pipeline definition")
		}
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}

	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadFile parses a single pipeline file and records its source path.
// This is the recommended way to load a pipeline from disk.
func LoadFile(path string) (*models.Pipeline, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, use LoadDirectory: %s", path)
	}
	if !IsPipelineFile(path) {
		return nil, fmt.Errorf("unsupported pipeline file %s (expected .yaml or .yml)", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pipeline, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	pipeline.SourceFile = absPath
	return pipeline, nil
}

// LoadDirectory loads every pipeline file in a directory (non-recursive)
// and rejects duplicate pipeline names across files.
func LoadDirectory(dirname string) ([]*models.Pipeline, error) {
	info, err := os.Stat(dirname)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dirname)
	}

	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if IsPipelineFile(entry.Name()) {
			files = append(files, filepath.Join(dirname, entry.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no pipeline files found in %s", dirname)
	}

	seen := make(map[string]string)
	var pipelines []*models.Pipeline
	for _, path := range files {
		pipeline, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[pipeline.Name]; ok {
			return nil, fmt.Errorf("duplicate pipeline name %q in %s (already defined in %s)",
				pipeline.Name, path, prev)
		}
		seen[pipeline.Name] = path
		pipelines = append(pipelines, pipeline)
	}
	return pipelines, nil
}

// IsPipelineFile reports whether a filename carries a pipeline extension
func IsPipelineFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// FilterPipelineFiles accepts file and/or directory paths and returns a
// deduplicated, sorted list of absolute pipeline file paths. Directories
// are scanned one level deep.
//
// Returns an error when no paths are provided, a path does not exist, or
// nothing matches.
func FilterPipelineFiles(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths provided")
	}

	found := make(map[string]bool)

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %w", path, err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("path %q does not exist", absPath)
			}
			return nil, fmt.Errorf("failed to access path %q: %w", absPath, err)
		}

		if info.IsDir() {
			entries, err := os.ReadDir(absPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read directory %q: %w", absPath, err)
			}
			for _, entry := range entries {
				if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
					continue
				}
				if IsPipelineFile(entry.Name()) {
					found[filepath.Join(absPath, entry.Name())] = true
				}
			}
		} else if IsPipelineFile(absPath) {
			found[absPath] = true
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("no pipeline files found matching *.{yaml,yml}")
	}

	result := make([]string, 0, len(found))
	for path := range found {
		result = append(result, path)
	}
	sort.Strings(result)
	return result, nil
}
