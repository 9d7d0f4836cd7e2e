package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"reflect"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azarm "github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/yaml"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/arm"
	"github.com/flavioaiello/containerapps/pkg/auth"
	"github.com/flavioaiello/containerapps/pkg/buildpack"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/config"
	"github.com/flavioaiello/containerapps/pkg/credcache"
	"github.com/flavioaiello/containerapps/pkg/graph"
	"github.com/flavioaiello/containerapps/pkg/identity"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/progress"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
	"github.com/flavioaiello/containerapps/pkg/registry"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Output formats.
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

type globalOptions struct {
	subscription  string
	resourceGroup string
	output        string
	debug         bool
	yes           bool
}

// cli carries the state shared by all commands. The reconciler is built on
// first use so that help and flag errors never touch Azure.
type cli struct {
	opts   globalOptions
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
	errOut io.Writer
	in     io.Reader
	rec    *reconciler.Reconciler
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{
		logger: zap.NewNop(),
		out:    out,
		errOut: errOut,
		in:     os.Stdin,
	}
}

// init loads configuration and builds the logger once flags are parsed.
func (c *cli) init() error {
	if c.opts.output != outputJSON && c.opts.output != outputYAML {
		return apperrors.Validation("invalid --output %q: must be json or yaml", c.opts.output)
	}
	if c.cfg == nil {
		c.cfg = config.Load()
	}
	if c.opts.subscription != "" {
		c.cfg.SubscriptionID = c.opts.subscription
	}
	if c.opts.resourceGroup != "" {
		c.cfg.ResourceGroup = c.opts.resourceGroup
	}
	if c.opts.debug {
		c.cfg.LogLevel = "debug"
	}
	c.logger = initLogger(c.cfg.LogLevel, c.opts.debug, c.errOut)
	return nil
}

func (c *cli) sync() {
	_ = c.logger.Sync()
}

// initLogger builds a development logger for --debug and a JSON logger at
// the configured level otherwise. Both write to errOut.
func initLogger(level string, debug bool, errOut io.Writer) *zap.Logger {
	sink := zapcore.AddSync(errOut)
	if debug {
		encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		return zap.New(zapcore.NewCore(encoder, sink, zap.DebugLevel), zap.AddCaller())
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.WarnLevel
	}
	return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, lvl))
}

// group returns rg or the configured default resource group.
func (c *cli) group() (string, error) {
	if c.cfg != nil && c.cfg.ResourceGroup != "" {
		return c.cfg.ResourceGroup, nil
	}
	return "", apperrors.RequiredArgument("--resource-group is required")
}

// reconciler builds the managers on first use.
func (c *cli) reconciler() (*reconciler.Reconciler, error) {
	if c.rec != nil {
		return c.rec, nil
	}
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Validation("invalid configuration: %v", err)
	}
	c.logger.Debug("Configuration loaded",
		zap.String("subscription_id", auth.MaskID(cfg.SubscriptionID)),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("api_version", cfg.APIVersion),
	)

	cred, err := auth.NewCredential(auth.Options{ClientID: cfg.ClientID}, c.logger)
	if err != nil {
		return nil, apperrors.Unauthorized("%v", err)
	}
	armClient, err := arm.NewClient(cred, cfg.Endpoint, c.logger, &arm.ClientOptions{ApplicationID: "aca/" + version})
	if err != nil {
		return nil, err
	}

	poller := lro.NewPoller(armClient, c.logger,
		lro.WithProgress(progress.NewAnimator(c.errOut, "Running")),
		lro.WithGeneral(lro.Options{Interval: cfg.PollInterval, Timeout: cfg.PollTimeout}),
		lro.WithCertificate(lro.Options{Interval: cfg.CertPollInterval, Timeout: cfg.CertPollTimeout}),
	)
	cl := clients.New(armClient, poller, clients.Settings{
		Endpoint:       cfg.Endpoint,
		SubscriptionID: cfg.SubscriptionID,
		APIVersion:     cfg.APIVersion,
	}, c.logger)

	deps, err := c.sdkDeps(cfg, cred)
	if err != nil {
		return nil, err
	}
	deps.Clients = cl
	deps.Poller = poller
	deps.Credentials = credcache.New(cfg.CredentialsFile(), c.logger)
	deps.Builders = []reconciler.SourceBuilder{
		buildpack.New(cfg.BinDir(), c.logger),
		registry.NewTaskBuilder(cl.Registries, c.logger),
	}
	deps.Confirm = c.confirm

	rec, err := reconciler.New(deps, c.logger)
	if err != nil {
		return nil, err
	}
	c.rec = rec
	return rec, nil
}

// sdkDeps builds the collaborators backed by the Azure SDK clients.
func (c *cli) sdkDeps(cfg *config.Config, cred azcore.TokenCredential) (reconciler.Deps, error) {
	opts := sdkClientOptions(cfg.Endpoint)

	discovery, err := graph.NewClient(cfg.SubscriptionID, cred, opts, c.logger)
	if err != nil {
		return reconciler.Deps{}, err
	}
	roles, err := identity.NewRoleAssigner(cfg.SubscriptionID, cred, opts, c.logger)
	if err != nil {
		return reconciler.Deps{}, err
	}
	groups, err := armresources.NewResourceGroupsClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return reconciler.Deps{}, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	providers, err := armresources.NewProvidersClient(cfg.SubscriptionID, cred, opts)
	if err != nil {
		return reconciler.Deps{}, fmt.Errorf("failed to create providers client: %w", err)
	}

	return reconciler.Deps{
		Discovery:  discovery,
		Roles:      roles,
		Principals: identity.NewPrincipalResolver(cred, opts, c.logger),
		Groups:     groups,
		Locations:  validate.NewLocationChecker(providers, c.logger),
	}, nil
}

// sdkClientOptions points the SDK clients at endpoint when it is not the
// public cloud.
func sdkClientOptions(endpoint string) *azarm.ClientOptions {
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" || endpoint == strings.TrimRight(arm.DefaultEndpoint, "/") {
		return nil
	}
	cfg := cloud.Configuration{
		Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
			cloud.ResourceManager: {Endpoint: endpoint, Audience: endpoint},
		},
	}
	return &azarm.ClientOptions{ClientOptions: policy.ClientOptions{Cloud: cfg}}
}

// authority returns the Microsoft Entra authority of the cloud the
// Resource Manager endpoint belongs to.
func authority(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	for _, cfg := range []cloud.Configuration{cloud.AzureGovernment, cloud.AzureChina} {
		if strings.EqualFold(endpoint, strings.TrimRight(cfg.Services[cloud.ResourceManager].Endpoint, "/")) {
			return strings.TrimRight(cfg.ActiveDirectoryAuthorityHost, "/")
		}
	}
	return reconciler.DefaultAuthority
}

// confirm asks a yes/no question on the terminal. Without a terminal the
// answer is no unless --yes was given.
func (c *cli) confirm(question string) bool {
	if c.opts.yes {
		return true
	}
	f, ok := c.in.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return false
	}
	fmt.Fprintf(c.errOut, "%s (y/N): ", question)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// currentUser names generated resource groups in app up.
func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// print writes v in the selected output format. Nil values print nothing.
func (c *cli) print(v any) error {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode output: %v", apperrors.ErrInternal, err)
	}
	if c.opts.output == outputYAML {
		data, err = yaml.JSONToYAML(data)
		if err != nil {
			return fmt.Errorf("%w: encode output: %v", apperrors.ErrInternal, err)
		}
		_, err = c.out.Write(data)
		return err
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

type runFunc func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error)

// run resolves the reconciler and the required resource group, then calls
// fn and prints its result.
func (c *cli) run(cmd *cobra.Command, fn runFunc) error {
	if _, err := c.group(); err != nil {
		return err
	}
	return c.runScoped(cmd, fn)
}

// runScoped is run for verbs where the resource group only narrows the
// scope.
func (c *cli) runScoped(cmd *cobra.Command, fn runFunc) error {
	r, err := c.reconciler()
	if err != nil {
		return err
	}
	rg := ""
	if c.cfg != nil {
		rg = c.cfg.ResourceGroup
	}
	out, err := fn(cmd.Context(), r, rg)
	if err != nil {
		return err
	}
	return c.print(out)
}

// optInt32 returns &v when the flag was set.
func optInt32(cmd *cobra.Command, name string, v int32) *int32 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optInt64(cmd *cobra.Command, name string, v int64) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optBool(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optFloat(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func optString(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// optSlice returns nil when the flag was not set so that an explicit empty
// list can be told apart from no change.
func optSlice(cmd *cobra.Command, name string, v []string) []string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	if v == nil {
		return []string{}
	}
	return v
}

// tags parses key=value pairs.
func tags(pairs []string) (map[string]string, error) {
	if pairs == nil {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, apperrors.Validation("invalid tag %q: expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
