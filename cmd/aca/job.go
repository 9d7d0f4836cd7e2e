package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newJobCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage container apps jobs",
	}

	var (
		name   string
		noWait bool
	)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.confirm("Are you sure you want to delete job " + name + "?") {
				return apperrors.Validation("deletion of %s was not confirmed; pass --yes to skip the prompt", name)
			}
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				if err := r.Jobs.Delete(ctx, rg, name, noWait); err != nil {
					return nil, err
				}
				c.logDone("delete", "job", name)
				return nil, nil
			})
		},
	}
	addName(deleteCmd, &name)
	addNoWait(deleteCmd, &noWait)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.Show(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in a resource group or the subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.List(ctx, rg)
			})
		},
	}

	cmd.AddCommand(
		newJobCreateCmd(c),
		newJobUpdateCmd(c),
		deleteCmd,
		showCmd,
		listCmd,
		newJobStartCmd(c),
		newJobStopCmd(c),
		newJobExecutionCmd(c),
		newJobSecretCmd(c),
		newJobRegistryCmd(c),
		newIdentityCmd(c, "job", identityCmds{
			assign: func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string) (any, error) {
				return r.Jobs.AssignIdentity(ctx, rg, name, ids)
			},
			remove: func(ctx context.Context, r *reconciler.Reconciler, rg, name string, ids []string, all bool) (any, error) {
				return r.Jobs.RemoveIdentity(ctx, rg, name, ids, all)
			},
			show: func(ctx context.Context, r *reconciler.Reconciler, rg, name string) (any, error) {
				return r.Jobs.ShowIdentity(ctx, rg, name)
			},
		}),
	)

	return cmd
}

// triggerFlags bind the job trigger and replica settings.
type triggerFlags struct {
	triggerType       string
	completionCount   int32
	parallelism       int32
	cron              string
	pollingInterval   int32
	minExecutions     int32
	maxExecutions     int32
	replicaTimeout    int32
	replicaRetryLimit int32
	rule              ruleFlags
}

func (f *triggerFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.triggerType, "trigger-type", "", "Trigger type (Manual|Schedule|Event)")
	flags.Int32Var(&f.completionCount, "replica-completion-count", 0, "Successful replicas needed to complete an execution")
	flags.Int32Var(&f.parallelism, "parallelism", 0, "Replicas started per execution")
	flags.StringVar(&f.cron, "cron-expression", "", "Cron schedule of a Schedule trigger")
	flags.Int32Var(&f.pollingInterval, "polling-interval", 0, "Seconds between event source checks")
	flags.Int32Var(&f.minExecutions, "min-executions", 0, "Minimum executions per polling interval")
	flags.Int32Var(&f.maxExecutions, "max-executions", 0, "Maximum executions per polling interval")
	flags.Int32Var(&f.replicaTimeout, "replica-timeout", 0, "Maximum seconds a replica may run")
	flags.Int32Var(&f.replicaRetryLimit, "replica-retry-limit", 0, "Retries before a replica fails")
	f.rule.register(cmd)
}

func (f *triggerFlags) options(cmd *cobra.Command) reconciler.TriggerOptions {
	return reconciler.TriggerOptions{
		TriggerType:            f.triggerType,
		ReplicaCompletionCount: optInt32(cmd, "replica-completion-count", f.completionCount),
		Parallelism:            optInt32(cmd, "parallelism", f.parallelism),
		CronExpression:         f.cron,
		PollingInterval:        optInt32(cmd, "polling-interval", f.pollingInterval),
		MinExecutions:          optInt32(cmd, "min-executions", f.minExecutions),
		MaxExecutions:          optInt32(cmd, "max-executions", f.maxExecutions),
		Rule:                   f.rule.rule(cmd),
	}
}

func newJobCreateCmd(c *cli) *cobra.Command {
	var (
		opts      reconciler.CreateJobOptions
		trigger   triggerFlags
		container containerFlags
		registry  registryFlags
		ids       identityFlags
		tagPairs  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		Example: `  aca job create -g rg -n nightly --environment env --trigger-type Schedule \
    --cron-expression "0 2 * * *" --replica-timeout 1800 --replica-retry-limit 1 --image busybox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(tagPairs)
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.Trigger = trigger.options(cmd)
				opts.ReplicaTimeout = optInt32(cmd, "replica-timeout", trigger.replicaTimeout)
				opts.ReplicaRetryLimit = optInt32(cmd, "replica-retry-limit", trigger.replicaRetryLimit)
				opts.Container = container.patch(cmd)
				opts.Registry = registry.flags()
				opts.SystemIdentity = ids.system
				opts.UserIdentities = ids.user
				opts.Tags = t
				return r.Jobs.Create(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.Environment, flagEnvironment, "", descEnvironment)
	cmd.Flags().StringVar(&opts.YAML, flagYAML, "", descYAML)
	cmd.Flags().StringSliceVar(&opts.Secrets, "secrets", nil, "Secrets as name=value")
	cmd.Flags().StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the job on")
	cmd.Flags().StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	trigger.register(cmd)
	container.register(cmd, false)
	registry.register(cmd, "registry-")
	ids.register(cmd)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newJobUpdateCmd(c *cli) *cobra.Command {
	var (
		opts      reconciler.UpdateJobOptions
		trigger   triggerFlags
		container containerFlags
		tagPairs  []string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(optSlice(cmd, "tags", tagPairs))
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.Trigger = trigger.options(cmd)
				opts.ReplicaTimeout = optInt32(cmd, "replica-timeout", trigger.replicaTimeout)
				opts.ReplicaRetryLimit = optInt32(cmd, "replica-retry-limit", trigger.replicaRetryLimit)
				opts.Container = container.patch(cmd)
				opts.Tags = t
				return r.Jobs.Update(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.YAML, flagYAML, "", descYAML)
	cmd.Flags().StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the job on")
	cmd.Flags().StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	trigger.register(cmd)
	container.register(cmd, true)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newJobStartCmd(c *cli) *cobra.Command {
	var (
		opts      reconciler.StartJobOptions
		container containerFlags
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an execution, optionally overriding its containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				opts.ResourceGroup = rg
				opts.Container = container.patch(cmd)
				return r.Jobs.Start(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.YAML, flagYAML, "", "Path to an execution template YAML file")
	container.register(cmd, true)

	return cmd
}

func newJobStopCmd(c *cli) *cobra.Command {
	var (
		name       string
		executions []string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop executions, all running ones by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				if err := r.Jobs.Stop(ctx, rg, name, executions); err != nil {
					return nil, err
				}
				c.logDone("stop", "job", name)
				return nil, nil
			})
		},
	}

	addName(cmd, &name)
	cmd.Flags().StringSliceVar(&executions, "job-execution-names", nil, "Executions to stop")

	return cmd
}

func newJobExecutionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Inspect job executions",
	}

	var name, execution string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.ListExecutions(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show an execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.ShowExecution(ctx, rg, name, execution)
			})
		},
	}
	addName(showCmd, &name)
	showCmd.Flags().StringVar(&execution, "job-execution-name", "", "Name of the execution")
	_ = showCmd.MarkFlagRequired("job-execution-name")

	cmd.AddCommand(listCmd, showCmd)

	return cmd
}

func newJobSecretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage job secrets",
	}

	var (
		name       string
		secret     string
		pairs      []string
		names      []string
		showValues bool
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Add or update secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.SetSecrets(ctx, rg, name, pairs)
			})
		},
	}
	addName(setCmd, &name)
	setCmd.Flags().StringSliceVar(&pairs, "secrets", nil, "Secrets as name=value")
	_ = setCmd.MarkFlagRequired("secrets")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.RemoveSecrets(ctx, rg, name, names)
			})
		},
	}
	addName(removeCmd, &name)
	removeCmd.Flags().StringSliceVar(&names, "secret-names", nil, "Names of the secrets to remove")
	_ = removeCmd.MarkFlagRequired("secret-names")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.ListSecrets(ctx, rg, name, showValues)
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
				return r.Jobs.ShowSecret(ctx, rg, name, secret)
			})
		},
	}
	addName(showCmd, &name)
	showCmd.Flags().StringVar(&secret, "secret-name", "", "Name of the secret")
	_ = showCmd.MarkFlagRequired("secret-name")

	cmd.AddCommand(setCmd, removeCmd, listCmd, showCmd)

	return cmd
}

func newJobRegistryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage job registry credentials",
	}

	var (
		name     string
		server   string
		registry registryFlags
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Add or update a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.SetRegistry(ctx, rg, name, registry.flags())
			})
		},
	}
	addName(setCmd, &name)
	registry.register(setCmd, "")
	_ = setCmd.MarkFlagRequired("server")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.RemoveRegistry(ctx, rg, name, server)
			})
		},
	}
	addName(removeCmd, &name)
	addServer(removeCmd, &server)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.ListRegistries(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Jobs.ShowRegistry(ctx, rg, name, server)
			})
		},
	}
	addName(showCmd, &name)
	addServer(showCmd, &server)

	cmd.AddCommand(setCmd, removeCmd, listCmd, showCmd)

	return cmd
}
