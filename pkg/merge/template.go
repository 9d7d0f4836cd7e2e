package merge

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Template defaults.
const (
	metadataConcurrentRequests    = "concurrentRequests"
	metadataConcurrentConnections = "concurrentConnections"
	secretVolumePrefix            = "secret-volume"
	maxSecretVolumeNameLength     = 40
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomSuffix returns n random letters and digits.
var RandomSuffix = func(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}

// NewSecretVolumeName returns a lowercase volume name for a secret mount.
func NewSecretVolumeName() string {
	name := secretVolumePrefix + "-" + strings.ToLower(RandomSuffix(4))
	if len(name) > maxSecretVolumeNameLength {
		name = name[:maxSecretVolumeNameLength]
	}
	return name
}

// ContainerPatch carries the container flags of create and update. Nil
// slices keep the existing value; empty non-nil slices clear it.
type ContainerPatch struct {
	Name              string
	Image             string
	Env               EnvPatch
	Command           []string
	Args              []string
	CPU               *float64
	Memory            string
	SecretVolumeMount *string
}

// IsZero reports whether the patch requests no container change.
func (p ContainerPatch) IsZero() bool {
	return p.Name == "" && p.Image == "" && p.Env.IsZero() && p.Command == nil && p.Args == nil &&
		p.CPU == nil && p.Memory == "" && p.SecretVolumeMount == nil
}

// Apply edits the named container, or appends a new one when no container
// matches. Without a name the only container is targeted. It returns the
// new containers and volumes and the env var names that could not be
// removed.
func (p ContainerPatch) Apply(containers []envelope.Container, volumes []envelope.Volume) ([]envelope.Container, []envelope.Volume, []string, error) {
	name := p.Name
	if name == "" {
		if len(containers) != 1 {
			return nil, nil, nil, apperrors.Validation("usage error: --container-name is required when adding or updating a container")
		}
		name = containers[0].Name
	}

	i := FindContainer(containers, name)
	if i < 0 {
		if p.Image == "" {
			return nil, nil, nil, apperrors.Validation("usage error: --image is required when adding a new container")
		}
		containers = append(containers, envelope.Container{Name: name, Env: []envelope.EnvironmentVar{}})
		i = len(containers) - 1
	}
	c := &containers[i]

	if p.Image != "" {
		c.Image = p.Image
	}
	var missing []string
	if !p.Env.IsZero() {
		env, notFound, err := p.Env.Apply(c.Env)
		if err != nil {
			return nil, nil, nil, err
		}
		c.Env = env
		missing = notFound
	}
	if p.Command != nil {
		c.Command = p.Command
	}
	if p.Args != nil {
		c.Args = p.Args
	}
	if p.CPU != nil || p.Memory != "" {
		if c.Resources == nil {
			c.Resources = &envelope.ContainerResources{}
		}
		if p.CPU != nil {
			c.Resources.CPU = p.CPU
		}
		if p.Memory != "" {
			c.Resources.Memory = p.Memory
		}
	}
	if p.SecretVolumeMount != nil {
		var err error
		volumes, err = mountSecretVolume(c, volumes, *p.SecretVolumeMount)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return containers, volumes, missing, nil
}

// mountSecretVolume mounts every secret at path. A container without
// mounts gets a new Secret volume; a container with a single Secret volume
// mount has its path moved.
func mountSecretVolume(c *envelope.Container, volumes []envelope.Volume, path string) ([]envelope.Volume, error) {
	switch len(c.VolumeMounts) {
	case 0:
		v := envelope.Volume{Name: NewSecretVolumeName(), StorageType: envelope.StorageTypeSecret}
		c.VolumeMounts = []envelope.VolumeMount{{VolumeName: v.Name, MountPath: path}}
		return append(volumes, v), nil
	case 1:
		mount := &c.VolumeMounts[0]
		for _, v := range volumes {
			if strings.EqualFold(v.Name, mount.VolumeName) && v.StorageType != envelope.StorageTypeSecret {
				return nil, apperrors.Validation("usage error: --secret-volume-mount can only update mounts of volumes of type Secret; use --yaml for other volume types")
			}
		}
		mount.MountPath = path
		return volumes, nil
	default:
		return nil, apperrors.Validation("usage error: --secret-volume-mount can only be used with a container that has a single volume mount; use --yaml for multiple volumes")
	}
}

// ScaleRulePatch carries the scale rule flags.
type ScaleRulePatch struct {
	Name        string
	Type        string
	Concurrency *int
	Metadata    []string
	Auth        []string
}

// Build returns the rule. The type defaults to http; the concurrency flag
// becomes concurrentRequests for http and concurrentConnections for tcp.
func (p ScaleRulePatch) Build() (envelope.ScaleRule, error) {
	ruleType := strings.ToLower(p.Type)
	if ruleType == "" {
		ruleType = string(envelope.ScaleRuleHTTP)
	}
	metadata := map[string]string{}
	if p.Concurrency != nil {
		switch ruleType {
		case string(envelope.ScaleRuleHTTP):
			metadata[metadataConcurrentRequests] = strconv.Itoa(*p.Concurrency)
		case string(envelope.ScaleRuleTCP):
			metadata[metadataConcurrentConnections] = strconv.Itoa(*p.Concurrency)
		}
	}
	if err := ParseMetadata(p.Metadata, metadata); err != nil {
		return envelope.ScaleRule{}, err
	}
	auth, err := ParseAuth(p.Auth)
	if err != nil {
		return envelope.ScaleRule{}, err
	}
	return envelope.NewScaleRule(p.Name, ruleType, metadata, auth), nil
}

// ParseMetadata adds "key=value" pairs to into. Keys must be unique.
func ParseMetadata(pairs []string, into map[string]string) error {
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return apperrors.Validation(`metadata must be in format "<key>=<value> <key>=<value> ..."`)
		}
		if _, dup := into[k]; dup {
			return apperrors.Validation("duplicate metadata %q found, metadata keys must be unique", k)
		}
		into[k] = v
	}
	return nil
}

// ParseAuth parses "triggerParameter=secretRef" pairs.
func ParseAuth(pairs []string) ([]envelope.ScaleRuleAuth, error) {
	seen := map[string]bool{}
	out := make([]envelope.ScaleRuleAuth, 0, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperrors.Validation(`auth parameters must be in format "<triggerParameter>=<secretRef> ..."`)
		}
		if seen[k] {
			return nil, apperrors.Validation("duplicate trigger parameter %q found, trigger parameters must be unique", k)
		}
		seen[k] = true
		out = append(out, envelope.ScaleRuleAuth{TriggerParameter: k, SecretRef: v})
	}
	return out, nil
}

// ScalePatch carries replica bounds and an optional rule.
type ScalePatch struct {
	MinReplicas *int32
	MaxReplicas *int32
	Rule        *ScaleRulePatch
}

// IsZero reports whether the patch requests no change.
func (p ScalePatch) IsZero() bool {
	return p.MinReplicas == nil && p.MaxReplicas == nil && p.Rule == nil
}

// Apply edits scale, allocating it when absent.
func (p ScalePatch) Apply(scale *envelope.Scale) (*envelope.Scale, error) {
	if p.IsZero() {
		return scale, nil
	}
	if scale == nil {
		scale = &envelope.Scale{}
	}
	if p.MinReplicas != nil {
		scale.MinReplicas = p.MinReplicas
	}
	if p.MaxReplicas != nil {
		scale.MaxReplicas = p.MaxReplicas
	}
	if p.Rule != nil && p.Rule.Name != "" {
		rule, err := p.Rule.Build()
		if err != nil {
			return nil, err
		}
		scale.Rules = SetScaleRule(scale.Rules, rule)
	}
	return scale, nil
}

// RevisionSuffix returns the revision suffix to send on update: the
// given suffix, or an explicit null so the service generates a new one.
func RevisionSuffix(suffix *string) envelope.Nullable[string] {
	if suffix == nil {
		return envelope.Null[string]()
	}
	return envelope.Value(*suffix)
}

// CopyRevisionTemplate returns the template of rev for a new revision of
// app, with env var secretRefs stripped of the "{app}-" prefix.
func CopyRevisionTemplate(rev *envelope.Revision, app string) (*envelope.Template, error) {
	if rev == nil || rev.Properties == nil || rev.Properties.Template == nil {
		return nil, apperrors.Validation("revision has no template to copy")
	}
	tpl := *rev.Properties.Template
	tpl.Containers = append([]envelope.Container(nil), tpl.Containers...)
	for i := range tpl.Containers {
		tpl.Containers[i].Env = append([]envelope.EnvironmentVar(nil), tpl.Containers[i].Env...)
	}
	StripSecretRefPrefix(tpl.Containers, app)
	return &tpl, nil
}

// UnresolvedVolumeMounts returns volume mount names that name no template
// volume.
func UnresolvedVolumeMounts(containers []envelope.Container, volumes []envelope.Volume) []string {
	var missing []string
	for _, c := range containers {
		for _, m := range c.VolumeMounts {
			if indexOf(volumes, m.VolumeName, func(v envelope.Volume) string { return v.Name }) < 0 {
				missing = append(missing, m.VolumeName)
			}
		}
	}
	return missing
}
