package models

import "fmt"

// Grant is a permission level for a single scope
type Grant string

// Permission grant levels, ordered none < read < write
const (
	GrantNone  Grant = "none"
	GrantRead  Grant = "read"
	GrantWrite Grant = "write"
)

// Permissions declares what a pipeline is allowed to touch. The zero
// value grants nothing; pipelines must opt in explicitly.
type Permissions struct {
	Contents Grant `yaml:"contents"` // Repository contents access
	IDToken  Grant `yaml:"id-token"` // Ambient identity token exchange
}

// rank orders grants for comparison; unknown grants rank below none
func (g Grant) rank() int {
	switch g {
	case GrantRead:
		return 1
	case GrantWrite:
		return 2
	default:
		return 0
	}
}

// Satisfies reports whether this grant covers the required level
func (g Grant) Satisfies(required Grant) bool {
	return g.rank() >= required.rank()
}

// Validate rejects grant values outside none/read/write. An empty
// string is accepted and means none.
func (g Grant) Validate() error {
	switch g {
	case "", GrantNone, GrantRead, GrantWrite:
		return nil
	default:
		return fmt.Errorf("invalid permission grant %q: must be none, read, or write", string(g))
	}
}

// Validate checks every scope's grant value
func (p *Permissions) Validate() error {
	if err := p.Contents.Validate(); err != nil {
		return fmt.Errorf("contents: %w", err)
	}
	if err := p.IDToken.Validate(); err != nil {
		return fmt.Errorf("id-token: %w", err)
	}
	return nil
}

// Allows reports whether the named scope carries at least the required
// grant. Unknown scopes allow nothing.
func (p *Permissions) Allows(scope string, required Grant) bool {
	switch scope {
	case ScopeContents:
		return p.Contents.Satisfies(required)
	case ScopeIDToken:
		return p.IDToken.Satisfies(required)
	default:
		return false
	}
}

// Permission scope names
const (
	ScopeContents = "contents"
	ScopeIDToken  = "id-token"
)
