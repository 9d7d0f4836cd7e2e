package main

import (
	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// containerFlags bind the container flags shared by apps and jobs.
type containerFlags struct {
	name              string
	image             string
	envVars           []string
	replaceEnvVars    []string
	removeEnvVars     []string
	removeAllEnvVars  bool
	command           []string
	args              []string
	cpu               float64
	memory            string
	secretVolumeMount string
}

func (f *containerFlags) register(cmd *cobra.Command, update bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.name, "container-name", "", "Name of the container")
	flags.StringVar(&f.image, "image", "", "Container image, e.g. publisher/image-name:tag")
	flags.StringSliceVar(&f.envVars, "env-vars", nil, "Environment variables as key=value or key=secretref:name")
	flags.StringSliceVar(&f.command, "command", nil, "Startup command")
	flags.StringSliceVar(&f.args, "args", nil, "Startup command arguments")
	flags.Float64Var(&f.cpu, "cpu", 0, "Required CPU in cores, e.g. 0.5")
	flags.StringVar(&f.memory, "memory", "", "Required memory, e.g. 1.0Gi")
	flags.StringVar(&f.secretVolumeMount, "secret-volume-mount", "", "Path to mount all secrets")
	if update {
		flags.StringSliceVar(&f.replaceEnvVars, "replace-env-vars", nil, "Replace all environment variables")
		flags.StringSliceVar(&f.removeEnvVars, "remove-env-vars", nil, "Remove environment variables by name")
		flags.BoolVar(&f.removeAllEnvVars, "remove-all-env-vars", false, "Remove all environment variables")
	}
}

func (f *containerFlags) patch(cmd *cobra.Command) merge.ContainerPatch {
	return merge.ContainerPatch{
		Name:  f.name,
		Image: f.image,
		Env: merge.EnvPatch{
			Set:       optSlice(cmd, "env-vars", f.envVars),
			Replace:   optSlice(cmd, "replace-env-vars", f.replaceEnvVars),
			Remove:    optSlice(cmd, "remove-env-vars", f.removeEnvVars),
			RemoveAll: f.removeAllEnvVars,
		},
		Command:           optSlice(cmd, "command", f.command),
		Args:              optSlice(cmd, "args", f.args),
		CPU:               optFloat(cmd, "cpu", f.cpu),
		Memory:            f.memory,
		SecretVolumeMount: optString(cmd, "secret-volume-mount", f.secretVolumeMount),
	}
}

// ruleFlags bind a custom scale rule.
type ruleFlags struct {
	name        string
	ruleType    string
	concurrency int
	metadata    []string
	auth        []string
}

func (f *ruleFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.name, "scale-rule-name", "", "Name of the scale rule")
	flags.StringVar(&f.ruleType, "scale-rule-type", "", "Type of the scale rule (default http)")
	flags.IntVar(&f.concurrency, "scale-rule-http-concurrency", 0, "Concurrent requests (http) or connections (tcp) per replica")
	flags.StringSliceVar(&f.metadata, "scale-rule-metadata", nil, "Scale rule metadata as key=value")
	flags.StringSliceVar(&f.auth, "scale-rule-auth", nil, "Scale rule auth as triggerParameter=secretRef")
}

func (f *ruleFlags) rule(cmd *cobra.Command) *merge.ScaleRulePatch {
	if f.name == "" {
		return nil
	}
	p := &merge.ScaleRulePatch{
		Name:     f.name,
		Type:     f.ruleType,
		Metadata: f.metadata,
		Auth:     f.auth,
	}
	if cmd.Flags().Changed("scale-rule-http-concurrency") {
		c := f.concurrency
		p.Concurrency = &c
	}
	return p
}

type scaleFlags struct {
	minReplicas int32
	maxReplicas int32
	rule        ruleFlags
}

func (f *scaleFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int32Var(&f.minReplicas, "min-replicas", 0, "Minimum number of replicas")
	cmd.Flags().Int32Var(&f.maxReplicas, "max-replicas", 0, "Maximum number of replicas")
	f.rule.register(cmd)
}

func (f *scaleFlags) patch(cmd *cobra.Command) merge.ScalePatch {
	return merge.ScalePatch{
		MinReplicas: optInt32(cmd, "min-replicas", f.minReplicas),
		MaxReplicas: optInt32(cmd, "max-replicas", f.maxReplicas),
		Rule:        f.rule.rule(cmd),
	}
}

type ingressFlags struct {
	ingress       string
	targetPort    int32
	exposedPort   int32
	transport     string
	allowInsecure bool
}

// register binds the ingress flags. typeFlag is --ingress on create and
// --type on ingress enable.
func (f *ingressFlags) register(cmd *cobra.Command, typeFlag string) {
	flags := cmd.Flags()
	flags.StringVar(&f.ingress, typeFlag, "", "Ingress type (external|internal)")
	flags.Int32Var(&f.targetPort, "target-port", 0, "Application port used for ingress traffic")
	flags.Int32Var(&f.exposedPort, "exposed-port", 0, "Additional exposed port, only with --transport tcp")
	flags.StringVar(&f.transport, "transport", "", "Transport protocol (auto|http|http2|tcp)")
	flags.BoolVar(&f.allowInsecure, "allow-insecure", false, "Allow insecure connections")
}

func (f *ingressFlags) flags(cmd *cobra.Command) validate.IngressFlags {
	return validate.IngressFlags{
		Ingress:       f.ingress,
		TargetPort:    optInt32(cmd, "target-port", f.targetPort),
		ExposedPort:   optInt32(cmd, "exposed-port", f.exposedPort),
		Transport:     f.transport,
		AllowInsecure: f.allowInsecure,
	}
}

type registryFlags struct {
	server   string
	username string
	password string
	identity string
}

func (f *registryFlags) register(cmd *cobra.Command, prefix string) {
	flags := cmd.Flags()
	flags.StringVar(&f.server, prefix+"server", "", "Container registry server, e.g. myregistry.azurecr.io")
	flags.StringVar(&f.username, prefix+"username", "", "Container registry user name")
	flags.StringVar(&f.password, prefix+"password", "", "Container registry password")
	flags.StringVar(&f.identity, prefix+"identity", "", "Managed identity used to pull from the registry, or 'system'")
}

func (f *registryFlags) flags() validate.RegistryFlags {
	return validate.RegistryFlags{
		Server:   f.server,
		Username: f.username,
		Password: f.password,
		Identity: f.identity,
	}
}

// identityFlags bind the identities assigned at create time.
type identityFlags struct {
	system bool
	user   []string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.system, "system-assigned", false, "Assign a system-assigned managed identity")
	cmd.Flags().StringSliceVar(&f.user, "user-assigned", nil, "User-assigned identity names or resource ids")
}
