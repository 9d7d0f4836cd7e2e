package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newAppCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage container apps",
	}

	cmd.AddCommand(
		newAppCreateCmd(c),
		newAppUpdateCmd(c),
		newAppDeleteCmd(c),
		newAppShowCmd(c),
		newAppListCmd(c),
		newAppUpCmd(c),
		newAppReplicaCmd(c),
		newIngressCmd(c),
		newRevisionCmd(c),
		newAppRegistryCmd(c),
		newAppSecretCmd(c),
		newDaprCmd(c),
		newAppIdentityCmd(c),
		newHostnameCmd(c),
		newSSLCmd(c),
		newAuthCmd(c),
		&cobra.Command{
			Use:   "github-action",
			Short: "Manage GitHub Actions workflows (not supported)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return apperrors.Validation("%v: GitHub Actions workflow wiring is not supported by this build", reconciler.ErrUnsupported)
			},
		},
		newComposeCmd(c),
	)

	return cmd
}

func newAppCreateCmd(c *cli) *cobra.Command {
	var (
		opts         reconciler.CreateAppOptions
		container    containerFlags
		scale        scaleFlags
		ingress      ingressFlags
		registry     registryFlags
		ids          identityFlags
		dapr         daprFlags
		tagPairs     []string
		gracePeriod  int64
		enableDapr   bool
		revisionMode string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a container app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(tagPairs)
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.Container = container.patch(cmd)
				opts.Scale = scale.patch(cmd)
				opts.Ingress = ingress.flags(cmd)
				opts.Registry = registry.flags()
				opts.SystemIdentity = ids.system
				opts.UserIdentities = ids.user
				opts.RevisionsMode = revisionMode
				opts.Tags = t
				opts.TerminationGracePeriod = optInt64(cmd, "termination-grace-period", gracePeriod)
				if enableDapr {
					d := dapr.options(cmd)
					opts.Dapr = &d
				}
				return r.Apps.Create(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.Environment, flagEnvironment, "", descEnvironment)
	cmd.Flags().StringVar(&opts.YAML, flagYAML, "", descYAML)
	cmd.Flags().StringVar(&revisionMode, "revisions-mode", "", "Active revisions mode (single|multiple)")
	cmd.Flags().StringVar(&opts.RevisionSuffix, "revision-suffix", "", "User friendly suffix appended to the revision name")
	cmd.Flags().StringSliceVar(&opts.Secrets, "secrets", nil, "Secrets as name=value")
	cmd.Flags().StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the app on")
	cmd.Flags().Int64Var(&gracePeriod, "termination-grace-period", 0, "Seconds a replica is given to shut down")
	cmd.Flags().StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	cmd.Flags().BoolVar(&enableDapr, "enable-dapr", false, "Enable the Dapr sidecar")
	container.register(cmd, false)
	scale.register(cmd)
	ingress.register(cmd, "ingress")
	registry.register(cmd, "registry-")
	ids.register(cmd)
	dapr.register(cmd)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newAppUpdateCmd(c *cli) *cobra.Command {
	var (
		opts        reconciler.UpdateAppOptions
		container   containerFlags
		scale       scaleFlags
		ingress     ingressFlags
		registry    registryFlags
		tagPairs    []string
		gracePeriod int64
		suffix      string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a container app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(optSlice(cmd, "tags", tagPairs))
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.Container = container.patch(cmd)
				opts.Scale = scale.patch(cmd)
				opts.Ingress = ingress.flags(cmd)
				opts.Registry = registry.flags()
				opts.Tags = t
				opts.RevisionSuffix = optString(cmd, "revision-suffix", suffix)
				opts.TerminationGracePeriod = optInt64(cmd, "termination-grace-period", gracePeriod)
				return r.Apps.Update(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.YAML, flagYAML, "", descYAML)
	cmd.Flags().StringVar(&opts.FromRevision, "from-revision", "", "Revision whose template the new revision starts from")
	cmd.Flags().StringVar(&suffix, "revision-suffix", "", "User friendly suffix appended to the revision name")
	cmd.Flags().StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the app on")
	cmd.Flags().Int64Var(&gracePeriod, "termination-grace-period", 0, "Seconds a replica is given to shut down")
	cmd.Flags().StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	container.register(cmd, true)
	scale.register(cmd)
	ingress.register(cmd, "ingress")
	registry.register(cmd, "registry-")
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newAppDeleteCmd(c *cli) *cobra.Command {
	var (
		name   string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a container app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.confirm("Are you sure you want to delete container app " + name + "?") {
				return apperrors.Validation("deletion of %s was not confirmed; pass --yes to skip the prompt", name)
			}
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				if err := r.Apps.Delete(ctx, rg, name, noWait); err != nil {
					return nil, err
				}
				c.logDone("delete", "containerApp", name)
				return nil, nil
			})
		},
	}

	addName(cmd, &name)
	addNoWait(cmd, &noWait)

	return cmd
}

func newAppShowCmd(c *cli) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a container app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.Show(ctx, rg, name)
			})
		},
	}
	addName(cmd, &name)

	return cmd
}

func newAppListCmd(c *cli) *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List container apps in a resource group or the subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.List(ctx, rg, environment)
			})
		},
	}
	cmd.Flags().StringVar(&environment, flagEnvironment, "", "Only list apps of this environment")

	return cmd
}

func newAppUpCmd(c *cli) *cobra.Command {
	var (
		opts       reconciler.UpOptions
		registry   registryFlags
		targetPort int32
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create or update a container app and its dependencies from an image, source or repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				opts.ResourceGroup = rg
				opts.Registry = registry.flags()
				opts.TargetPort = optInt32(cmd, "target-port", targetPort)
				opts.User = currentUser()
				return r.Up.Run(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	flags := cmd.Flags()
	flags.StringVar(&opts.Environment, flagEnvironment, "", descEnvironment)
	flags.StringVarP(&opts.Location, "location", "l", "", "Location for new resources")
	flags.StringVar(&opts.Image, "image", "", "Container image")
	flags.StringVar(&opts.Source, "source", "", "Local directory to build from")
	flags.StringVar(&opts.Repo, "repo", "", "GitHub repository, owner/name or URL")
	flags.StringVarP(&opts.Branch, "branch", "b", "", "Branch of the repository")
	flags.StringVar(&opts.Token, "token", "", "GitHub personal access token")
	flags.StringVar(&opts.ContextPath, "context-path", "", "Path in the repository to build from")
	flags.StringVar(&opts.ServicePrincipal.ClientID, "service-principal-client-id", "", "Client id the repository workflow signs in with")
	flags.StringVar(&opts.ServicePrincipal.ClientSecret, "service-principal-client-secret", "", "Client secret of the service principal")
	flags.StringVar(&opts.ServicePrincipal.TenantID, "service-principal-tenant-id", "", "Tenant of the service principal")
	flags.StringVar(&opts.Ingress, "ingress", "", "Ingress type (external|internal)")
	flags.Int32Var(&targetPort, "target-port", 0, "Application port used for ingress traffic")
	flags.StringSliceVar(&opts.EnvVars, "env-vars", nil, "Environment variables as key=value")
	flags.StringVar(&opts.LogsCustomerID, "logs-workspace-id", "", "Log Analytics workspace customer id")
	flags.StringVar(&opts.LogsKey, "logs-workspace-key", "", "Log Analytics workspace shared key")
	flags.StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the app on")
	registry.register(cmd, "registry-")

	return cmd
}

func newComposeCmd(c *cli) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Create container apps from a compose file (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Compose(ctx, file)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "compose-file-path", "f", "docker-compose.yml", "Path to the compose file")

	return cmd
}

func newAppReplicaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Inspect the replicas of a revision",
	}

	var name, revision, replica string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the replicas of a revision, the latest by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ListReplicas(ctx, rg, name, revision)
			})
		},
	}
	addName(listCmd, &name)
	listCmd.Flags().StringVar(&revision, "revision", "", "Name of the revision")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowReplica(ctx, rg, name, revision, replica)
			})
		},
	}
	addName(showCmd, &name)
	showCmd.Flags().StringVar(&revision, "revision", "", "Name of the revision")
	showCmd.Flags().StringVar(&replica, "replica", "", "Name of the replica")
	_ = showCmd.MarkFlagRequired("replica")

	cmd.AddCommand(listCmd, showCmd)

	return cmd
}
