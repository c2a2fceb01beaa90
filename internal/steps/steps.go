// Package steps implements the builtin pipeline steps a release run is
// composed of: checkout, fetch-tags, toolchain, build, artifacts,
// smoke, distcheck, checksum, and publish. Builtins are registered by
// name and invoked through a step's uses field; their with options are
// decoded into typed structs before execution.
package steps

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/slipway-ci/slipway/internal/config"
	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/fetch"
	"github.com/slipway-ci/slipway/internal/index"
)

// Deps carries the shared dependencies builtins are constructed with.
// Zero-value fields fall back to instances built from the config.
type Deps struct {
	Config  *config.Config
	Fetcher *fetch.Fetcher // Toolchain downloader (nil = built from config)
	Index   *index.Client  // Package index client (nil = built from config)
}

// DefaultRegistry builds the registry of all builtin steps.
func DefaultRegistry(deps Deps) (*executor.Registry, error) {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Index == nil {
		deps.Index = index.NewClient(
			deps.Config.Publish.UploadURL,
			deps.Config.Publish.SimpleURL,
			deps.Config.Publish.TokenURL,
		)
	}

	registry := executor.NewRegistry()
	builtins := []executor.Builtin{
		&Checkout{},
		&FetchTags{},
		&Toolchain{cfg: deps.Config, fetcher: deps.Fetcher},
		&Build{},
		&Artifacts{},
		&Smoke{},
		&DistCheck{},
		&Checksum{cfg: deps.Config},
		&Publish{cfg: deps.Config, index: deps.Index},
	}
	for _, b := range builtins {
		if err := registry.Register(b); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// decodeWith maps a step's with options onto a typed options struct.
// Unknown keys are rejected so option typos fail the step immediately.
func decodeWith(with map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build option decoder: %w", err)
	}
	if err := decoder.Decode(with); err != nil {
		return fmt.Errorf("invalid step options: %w", err)
	}
	return nil
}
