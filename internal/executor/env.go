package executor

import (
	"os"
	"sort"
	"strings"

	"github.com/slipway-ci/slipway/internal/models"
)

// ResolveStepEnv builds the complete environment map for one step.
// Layering order, later wins: process environment, pipeline env, job env,
// step env, then the SLIPWAY_* event context which steps cannot override.
// Tool directories registered during the run are prepended to PATH.
func ResolveStepEnv(base []string, pipeline *models.Pipeline, job *models.Job, step *models.Step, event *models.Event, runID string, pathPrepends []string) map[string]string {
	env := make(map[string]string, len(base)+8)
	for _, kv := range base {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	for _, overlay := range []map[string]string{pipeline.Env, job.Env, step.Env} {
		for k, v := range overlay {
			env[k] = v
		}
	}

	if event != nil {
		env["SLIPWAY_EVENT"] = event.Kind
		env["SLIPWAY_EVENT_ACTION"] = event.Action
		env["SLIPWAY_TAG"] = event.Tag
		env["SLIPWAY_COMMIT"] = event.Commit
		env["SLIPWAY_REPO"] = event.Repo
	}
	env["SLIPWAY_RUN_ID"] = runID

	if len(pathPrepends) > 0 {
		merged := strings.Join(pathPrepends, string(os.PathListSeparator))
		if existing := env["PATH"]; existing != "" {
			merged += string(os.PathListSeparator) + existing
		}
		env["PATH"] = merged
	}

	return env
}

// FlattenEnv converts an environment map to sorted KEY=VALUE form for exec.
func FlattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ExpandString substitutes $VAR and ${VAR} references against the resolved
// step environment. Unknown variables expand to the empty string.
func ExpandString(s string, env map[string]string) string {
	return os.Expand(s, func(key string) string { return env[key] })
}

// ExpandWith returns a copy of a step's with-options where every string
// value, including strings nested inside maps and lists, has variable
// references expanded.
func ExpandWith(with map[string]any, env map[string]string) map[string]any {
	if with == nil {
		return nil
	}
	out := make(map[string]any, len(with))
	for k, v := range with {
		out[k] = expandValue(v, env)
	}
	return out
}

func expandValue(v any, env map[string]string) any {
	switch t := v.(type) {
	case string:
		return ExpandString(t, env)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = expandValue(e, env)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = expandValue(e, env)
		}
		return out
	default:
		return v
	}
}
