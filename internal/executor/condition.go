package executor

import (
	"fmt"
	"path"
	"strings"

	"github.com/slipway-ci/slipway/internal/models"
)

// EvalContext carries the run state a step condition is evaluated against.
type EvalContext struct {
	Event       *models.Event
	PriorFailed bool // true once any earlier step in the job has failed
}

// Condition is a parsed step condition expression.
type Condition interface {
	Evaluate(ec EvalContext) bool
	String() string
}

// ParseCondition parses a step "if" expression. Supported grammar:
//
//	expr    := term ('&&' term)*
//	term    := '!'? primary
//	primary := always() | success() | failure() | event('<kind[.action]>') | tag('<glob>')
//
// An empty expression is equivalent to success().
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return condSuccess{}, nil
	}

	parts := strings.Split(expr, "&&")
	terms := make([]Condition, 0, len(parts))
	for _, part := range parts {
		term, err := parseTerm(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return condAnd(terms), nil
}

func parseTerm(term string) (Condition, error) {
	if term == "" {
		return nil, fmt.Errorf("empty condition term")
	}
	if strings.HasPrefix(term, "!") {
		inner, err := parseTerm(strings.TrimSpace(term[1:]))
		if err != nil {
			return nil, err
		}
		return condNot{inner: inner}, nil
	}

	switch term {
	case "always()":
		return condAlways{}, nil
	case "success()":
		return condSuccess{}, nil
	case "failure()":
		return condFailure{}, nil
	}

	if strings.HasPrefix(term, "event(") {
		arg, err := parseArg(term, "event")
		if err != nil {
			return nil, err
		}
		return condEvent{want: arg}, nil
	}
	if strings.HasPrefix(term, "tag(") {
		arg, err := parseArg(term, "tag")
		if err != nil {
			return nil, err
		}
		// Reject malformed glob patterns at parse time rather than
		// silently never matching at run time.
		if _, err := path.Match(arg, ""); err != nil {
			return nil, fmt.Errorf("invalid tag pattern %q: %w", arg, err)
		}
		return condTag{pattern: arg}, nil
	}

	return nil, fmt.Errorf("unknown condition %q", term)
}

// parseArg extracts the quoted argument from a call like event('release').
func parseArg(term, name string) (string, error) {
	if !strings.HasSuffix(term, ")") {
		return "", fmt.Errorf("condition %q: missing closing parenthesis", term)
	}
	arg := strings.TrimSpace(term[len(name)+1 : len(term)-1])
	if len(arg) < 2 || (arg[0] != '\'' && arg[0] != '"') || arg[len(arg)-1] != arg[0] {
		return "", fmt.Errorf("condition %q: argument must be a quoted string", term)
	}
	inner := arg[1 : len(arg)-1]
	if inner == "" {
		return "", fmt.Errorf("condition %q: argument cannot be empty", term)
	}
	return inner, nil
}

// ValidateConditions parses every step condition in the pipeline so that
// malformed expressions are rejected before any step runs.
func ValidateConditions(pipeline *models.Pipeline) error {
	for _, job := range pipeline.Jobs {
		for _, step := range job.Steps {
			if _, err := ParseCondition(step.If); err != nil {
				return fmt.Errorf("job %q step %q: %w", job.ID, step.ID, err)
			}
		}
	}
	return nil
}

type condAlways struct{}

func (condAlways) Evaluate(EvalContext) bool { return true }
func (condAlways) String() string            { return "always()" }

type condSuccess struct{}

func (condSuccess) Evaluate(ec EvalContext) bool { return !ec.PriorFailed }
func (condSuccess) String() string               { return "success()" }

type condFailure struct{}

func (condFailure) Evaluate(ec EvalContext) bool { return ec.PriorFailed }
func (condFailure) String() string               { return "failure()" }

type condEvent struct {
	want string
}

func (c condEvent) Evaluate(ec EvalContext) bool {
	if ec.Event == nil {
		return false
	}
	// "release.published" matches kind and action; "release" matches kind only.
	if strings.Contains(c.want, ".") {
		return ec.Event.String() == c.want
	}
	return ec.Event.Kind == c.want
}

func (c condEvent) String() string { return fmt.Sprintf("event('%s')", c.want) }

type condTag struct {
	pattern string
}

func (c condTag) Evaluate(ec EvalContext) bool {
	if ec.Event == nil || ec.Event.Tag == "" {
		return false
	}
	matched, err := path.Match(c.pattern, ec.Event.Tag)
	return err == nil && matched
}

func (c condTag) String() string { return fmt.Sprintf("tag('%s')", c.pattern) }

type condNot struct {
	inner Condition
}

func (c condNot) Evaluate(ec EvalContext) bool { return !c.inner.Evaluate(ec) }
func (c condNot) String() string               { return "!" + c.inner.String() }

type condAnd []Condition

func (c condAnd) Evaluate(ec EvalContext) bool {
	for _, term := range c {
		if !term.Evaluate(ec) {
			return false
		}
	}
	return true
}

func (c condAnd) String() string {
	parts := make([]string, len(c))
	for i, term := range c {
		parts[i] = term.String()
	}
	return strings.Join(parts, " && ")
}
