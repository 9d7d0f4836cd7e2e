package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newRevisionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revision",
		Short: "Manage revisions",
	}

	var (
		name     string
		revision string
		all      bool
		mode     string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List revisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ListRevisions(ctx, rg, name, all)
			})
		},
	}
	addName(listCmd, &name)
	listCmd.Flags().BoolVar(&all, "all", false, "Include inactive revisions")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowRevision(ctx, rg, name, revision)
			})
		},
	}
	addName(showCmd, &name)
	addRevision(showCmd, &revision)

	cmd.AddCommand(
		listCmd,
		showCmd,
		newReviseCmd(c, reconciler.RevisionRestart, "Restart a revision"),
		newReviseCmd(c, reconciler.RevisionActivate, "Activate a revision"),
		newReviseCmd(c, reconciler.RevisionDeactivate, "Deactivate a revision"),
		newRevisionCopyCmd(c),
		newLabelCmd(c),
	)

	setModeCmd := &cobra.Command{
		Use:   "set-mode",
		Short: "Set the active revisions mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetRevisionMode(ctx, rg, name, mode)
			})
		},
	}
	addName(setModeCmd, &name)
	setModeCmd.Flags().StringVar(&mode, "mode", "", "Active revisions mode (single|multiple)")
	_ = setModeCmd.MarkFlagRequired("mode")
	cmd.AddCommand(setModeCmd)

	return cmd
}

func addRevision(cmd *cobra.Command, revision *string) {
	cmd.Flags().StringVar(revision, "revision", "", "Name of the revision")
	_ = cmd.MarkFlagRequired("revision")
}

// newReviseCmd builds restart, activate and deactivate. The app name is
// optional and derived from the revision name when omitted.
func newReviseCmd(c *cli, action reconciler.RevisionAction, short string) *cobra.Command {
	var name, revision string

	cmd := &cobra.Command{
		Use:   string(action),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Apps.ReviseRevision(ctx, rg, name, revision, action)
			})
		},
	}
	cmd.Flags().StringVarP(&name, flagName, "n", "", "Name of the container app")
	addRevision(cmd, &revision)

	return cmd
}

func newRevisionCopyCmd(c *cli) *cobra.Command {
	var (
		opts      reconciler.UpdateAppOptions
		container containerFlags
		scale     scaleFlags
		suffix    string
	)

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Create a revision from an existing one, the latest by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				opts.ResourceGroup = rg
				opts.Container = container.patch(cmd)
				opts.Scale = scale.patch(cmd)
				opts.RevisionSuffix = optString(cmd, "revision-suffix", suffix)
				return r.Apps.CopyRevision(ctx, opts)
			})
		},
	}
	addName(cmd, &opts.Name)
	cmd.Flags().StringVar(&opts.FromRevision, "from-revision", "", "Revision to copy")
	cmd.Flags().StringVar(&suffix, "revision-suffix", "", "User friendly suffix appended to the revision name")
	cmd.Flags().StringVarP(&opts.WorkloadProfile, "workload-profile-name", "w", "", "Workload profile to run the app on")
	container.register(cmd, true)
	scale.register(cmd)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newLabelCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Manage revision labels",
	}

	var name, revision, label, source, target string

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Attach a label to a revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.AddLabel(ctx, rg, name, revision, label, c.opts.yes)
			})
		},
	}
	addName(addCmd, &name)
	addRevision(addCmd, &revision)
	addCmd.Flags().StringVar(&label, "label", "", "Name of the label")
	_ = addCmd.MarkFlagRequired("label")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a label",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.RemoveLabel(ctx, rg, name, label)
			})
		},
	}
	addName(removeCmd, &name)
	removeCmd.Flags().StringVar(&label, "label", "", "Name of the label")
	_ = removeCmd.MarkFlagRequired("label")

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap the revisions of two labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SwapLabels(ctx, rg, name, source, target)
			})
		},
	}
	addName(swapCmd, &name)
	swapCmd.Flags().StringVar(&source, "source", "", "Source label")
	swapCmd.Flags().StringVar(&target, "target", "", "Target label")
	_ = swapCmd.MarkFlagRequired("source")
	_ = swapCmd.MarkFlagRequired("target")

	cmd.AddCommand(addCmd, removeCmd, swapCmd)

	return cmd
}
