package merge

import (
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// ParseEnvVars parses "name=value" and "name=secretref:secret" pairs.
// Names must be unique.
func ParseEnvVars(pairs []string) ([]envelope.EnvironmentVar, error) {
	seen := map[string]bool{}
	out := make([]envelope.EnvironmentVar, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperrors.Validation(`environment variables must be in the format "<key>=<value> <key>=secretref:<value> ..."`)
		}
		if seen[name] {
			return nil, apperrors.Validation("duplicate environment variable %s found, environment variable names must be unique", name)
		}
		seen[name] = true
		if ref, isRef := strings.CutPrefix(value, SecretRefPrefix); isRef {
			out = append(out, envelope.EnvironmentVar{Name: name, SecretRef: ref})
			continue
		}
		out = append(out, envelope.EnvironmentVar{Name: name, Value: envelope.Ptr(value)})
	}
	return out, nil
}

// SetEnvVars upserts updates into existing by case-insensitive name. An
// updated variable takes both the value and the secretRef of the update,
// so switching between a literal and a reference clears the other.
func SetEnvVars(existing, updates []envelope.EnvironmentVar) []envelope.EnvironmentVar {
	for _, u := range updates {
		existing = upsert(existing, u, func(e envelope.EnvironmentVar) string { return e.Name })
	}
	return existing
}

// RemoveEnvVars drops the named variables and reports names not present.
func RemoveEnvVars(existing []envelope.EnvironmentVar, names []string) ([]envelope.EnvironmentVar, []string) {
	var missing []string
	for _, name := range names {
		i := indexOf(existing, name, func(e envelope.EnvironmentVar) string { return e.Name })
		if i < 0 {
			missing = append(missing, name)
			continue
		}
		existing = append(existing[:i:i], existing[i+1:]...)
	}
	return existing, missing
}

// EnvPatch is the set of env var edits requested for one container.
type EnvPatch struct {
	Set       []string
	Replace   []string
	Remove    []string
	RemoveAll bool
}

// IsZero reports whether the patch requests no change.
func (p EnvPatch) IsZero() bool {
	return p.Set == nil && p.Replace == nil && p.Remove == nil && !p.RemoveAll
}

// Apply edits env in the order set, replace, remove, remove-all, and
// returns the new list with the names that could not be removed.
func (p EnvPatch) Apply(env []envelope.EnvironmentVar) ([]envelope.EnvironmentVar, []string, error) {
	if p.Set != nil {
		vars, err := ParseEnvVars(p.Set)
		if err != nil {
			return nil, nil, err
		}
		env = SetEnvVars(env, vars)
	}
	if p.Replace != nil {
		vars, err := ParseEnvVars(p.Replace)
		if err != nil {
			return nil, nil, err
		}
		env = SetEnvVars([]envelope.EnvironmentVar{}, vars)
	}
	var missing []string
	if p.Remove != nil {
		env, missing = RemoveEnvVars(env, p.Remove)
	}
	if p.RemoveAll {
		env = []envelope.EnvironmentVar{}
	}
	if env == nil {
		env = []envelope.EnvironmentVar{}
	}
	return env, missing, nil
}

// FillEmptyEnvValues sets an empty literal on env vars that carry neither
// a value nor a secretRef. The API omits empty string values on read.
func FillEmptyEnvValues(containers []envelope.Container) {
	for i := range containers {
		for j := range containers[i].Env {
			e := &containers[i].Env[j]
			if e.Value == nil && e.SecretRef == "" {
				e.Value = envelope.Ptr("")
			}
		}
	}
}

// StripSecretRefPrefix removes the "{app}-" prefix that copied revisions
// carry on env var secretRefs.
func StripSecretRefPrefix(containers []envelope.Container, app string) {
	prefix := app + "-"
	for i := range containers {
		for j := range containers[i].Env {
			e := &containers[i].Env[j]
			e.SecretRef = strings.ReplaceAll(e.SecretRef, prefix, "")
		}
	}
}
