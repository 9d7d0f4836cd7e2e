package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newAppRegistryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage image registry credentials",
	}

	var (
		name     string
		server   string
		registry registryFlags
		noWait   bool
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Add or update a registry; ACR credentials are looked up when omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetRegistry(ctx, rg, name, registry.flags(), noWait)
			})
		},
	}
	addName(setCmd, &name)
	registry.register(setCmd, "")
	_ = setCmd.MarkFlagRequired("server")
	addNoWait(setCmd, &noWait)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a registry and its password secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.RemoveRegistry(ctx, rg, name, server, noWait)
			})
		},
	}
	addName(removeCmd, &name)
	addServer(removeCmd, &server)
	addNoWait(removeCmd, &noWait)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ListRegistries(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowRegistry(ctx, rg, name, server)
			})
		},
	}
	addName(showCmd, &name)
	addServer(showCmd, &server)

	cmd.AddCommand(setCmd, removeCmd, listCmd, showCmd)

	return cmd
}

func addServer(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVar(server, "server", "", "Container registry server")
	_ = cmd.MarkFlagRequired("server")
}

func newAppSecretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets",
	}

	var (
		name       string
		secret     string
		pairs      []string
		names      []string
		showValues bool
		noWait     bool
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Add or update secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetSecrets(ctx, rg, name, pairs, noWait)
			})
		},
	}
	addName(setCmd, &name)
	setCmd.Flags().StringSliceVar(&pairs, "secrets", nil, "Secrets as name=value")
	_ = setCmd.MarkFlagRequired("secrets")
	addNoWait(setCmd, &noWait)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.RemoveSecrets(ctx, rg, name, names, noWait)
			})
		},
	}
	addName(removeCmd, &name)
	removeCmd.Flags().StringSliceVar(&names, "secret-names", nil, "Names of the secrets to remove")
	_ = removeCmd.MarkFlagRequired("secret-names")
	addNoWait(removeCmd, &noWait)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ListSecrets(ctx, rg, name, showValues)
			})
		},
	}
	addName(listCmd, &name)
	listCmd.Flags().BoolVar(&showValues, "show-values", false, "Include secret values")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a secret with its value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowSecret(ctx, rg, name, secret)
			})
		},
	}
	addName(showCmd, &name)
	showCmd.Flags().StringVar(&secret, "secret-name", "", "Name of the secret")
	_ = showCmd.MarkFlagRequired("secret-name")

	cmd.AddCommand(setCmd, removeCmd, listCmd, showCmd)

	return cmd
}

// daprFlags bind the Dapr sidecar settings.
type daprFlags struct {
	appID          string
	appPort        int32
	appProtocol    string
	readBufferSize int32
	maxRequestSize int32
	logLevel       string
	apiLogging     bool
}

func (f *daprFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.appID, "dapr-app-id", "", "Dapr application id")
	flags.Int32Var(&f.appPort, "dapr-app-port", 0, "Port the application listens on")
	flags.StringVar(&f.appProtocol, "dapr-app-protocol", "", "Application protocol (http|grpc|http2|grpcs|https)")
	flags.Int32Var(&f.readBufferSize, "dapr-http-read-buffer-size", 0, "Max HTTP header read buffer in KB")
	flags.Int32Var(&f.maxRequestSize, "dapr-http-max-request-size", 0, "Max HTTP request body in MB")
	flags.StringVar(&f.logLevel, "dapr-log-level", "", "Sidecar log level (debug|info|warn|error)")
	flags.BoolVar(&f.apiLogging, "dapr-enable-api-logging", false, "Enable API logging")
}

func (f *daprFlags) options(cmd *cobra.Command) reconciler.DaprOptions {
	return reconciler.DaprOptions{
		AppID:              f.appID,
		AppPort:            optInt32(cmd, "dapr-app-port", f.appPort),
		AppProtocol:        f.appProtocol,
		HTTPReadBufferSize: optInt32(cmd, "dapr-http-read-buffer-size", f.readBufferSize),
		HTTPMaxRequestSize: optInt32(cmd, "dapr-http-max-request-size", f.maxRequestSize),
		LogLevel:           f.logLevel,
		EnableAPILogging:   optBool(cmd, "dapr-enable-api-logging", f.apiLogging),
	}
}

func newDaprCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dapr",
		Short: "Manage the Dapr sidecar",
	}

	var (
		name string
		dapr daprFlags
	)

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable or update the Dapr sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.EnableDapr(ctx, rg, name, dapr.options(cmd))
			})
		},
	}
	addName(enableCmd, &name)
	dapr.register(enableCmd)

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable the Dapr sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.DisableDapr(ctx, rg, name)
			})
		},
	}
	addName(disableCmd, &name)

	cmd.AddCommand(enableCmd, disableCmd)

	return cmd
}

// identityCmds are the assign, remove and show verbs shared by apps and
// jobs.
type identityCmds struct {
	assign func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string) (any, error)
	remove func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string, all bool) (any, error)
	show   func(ctx context.Context, r *reconciler.Reconciler, rg, name string) (any, error)
}

func newIdentityCmd(c *cli, kind string, verbs identityCmds) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the managed identities of a " + kind,
	}

	var (
		name string
		ids  []string
		all  bool
	)

	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign managed identities",
		Example: `  aca ` + kind + ` identity assign -g rg -n name --identities system
  aca ` + kind + ` identity assign -g rg -n name --identities my-identity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return verbs.assign(ctx, r, rg, name, ids)
			})
		},
	}
	addName(assignCmd, &name)
	assignCmd.Flags().StringSliceVar(&ids, "identities", []string{"system"}, "'system' and user-assigned identity names or ids")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove managed identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return verbs.remove(ctx, r, rg, name, ids, all)
			})
		},
	}
	addName(removeCmd, &name)
	removeCmd.Flags().StringSliceVar(&ids, "identities", nil, "'system' and user-assigned identity names or ids")
	removeCmd.Flags().BoolVar(&all, "all", false, "Remove all identities")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show managed identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return verbs.show(ctx, r, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(assignCmd, removeCmd, showCmd)

	return cmd
}

func newAppIdentityCmd(c *cli) *cobra.Command {
	return newIdentityCmd(c, "app", identityCmds{
		assign: func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string) (any, error) {
			return r.Apps.AssignIdentity(ctx, rg, name, ids)
		},
		remove: func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string, all bool) (any, error) {
			return r.Apps.RemoveIdentity(ctx, rg, name, ids, all)
		},
		show: func(ctx context.Context, r *reconciler.Reconciler, rg, name string) (any, error) {
			return r.Apps.ShowIdentity(ctx, rg, name)
		},
	})
}

func newAuthCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage built-in authentication",
	}

	var (
		name    string
		opts    reconciler.AuthOptions
		enabled bool
		paths   []string
	)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update authentication settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				opts.Enabled = optBool(cmd, "enabled", enabled)
				opts.ExcludedPaths = optSlice(cmd, "excluded-paths", paths)
				return r.Apps.UpdateAuth(ctx, rg, name, opts)
			})
		},
	}
	addName(updateCmd, &name)
	updateCmd.Flags().BoolVar(&enabled, "enabled", false, "Enable authentication")
	updateCmd.Flags().StringVar(&opts.RuntimeVersion, "runtime-version", "", "Authentication runtime version")
	updateCmd.Flags().StringVar(&opts.UnauthenticatedClientAction, "unauthenticated-client-action", "", "RedirectToLoginPage, AllowAnonymous, Return401 or Return403")
	updateCmd.Flags().StringVar(&opts.RedirectProvider, "redirect-provider", "", "Default provider for unauthenticated requests")
	updateCmd.Flags().StringSliceVar(&paths, "excluded-paths", nil, "Paths excluded from authentication")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show authentication settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowAuth(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(updateCmd, showCmd)
	cmd.AddCommand(newAuthProviderCmds(c)...)
	cmd.AddCommand(newOIDCProviderCmd(c))

	return cmd
}
