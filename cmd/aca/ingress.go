package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newIngressCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingress",
		Short: "Manage ingress and traffic splitting",
	}

	var (
		name    string
		ingress ingressFlags
	)

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable or replace ingress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.EnableIngress(ctx, rg, name, ingress.flags(cmd))
			})
		},
	}
	addName(enableCmd, &name)
	ingress.register(enableCmd, "type")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update ingress settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.UpdateIngress(ctx, rg, name, ingress.flags(cmd))
			})
		},
	}
	addName(updateCmd, &name)
	ingress.register(updateCmd, "type")

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable ingress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Apps.DisableIngress(ctx, rg, name)
			})
		},
	}
	addName(disableCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show ingress settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowIngress(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(
		enableCmd,
		updateCmd,
		disableCmd,
		showCmd,
		newTrafficCmd(c),
		newAccessRestrictionCmd(c),
		newCORSCmd(c),
		newStickySessionsCmd(c),
	)

	return cmd
}

func newTrafficCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Split traffic between revisions and labels",
	}

	var (
		name            string
		revisionWeights []string
		labelWeights    []string
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set traffic weights; unnamed revisions share the remainder",
		Example: `  aca app ingress traffic set -g rg -n web --revision-weight latest=80 web--v1=20
  aca app ingress traffic set -g rg -n web --label-weight blue=50 green=50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetTraffic(ctx, rg, name, revisionWeights, labelWeights)
			})
		},
	}
	addName(setCmd, &name)
	setCmd.Flags().StringSliceVar(&revisionWeights, "revision-weight", nil, "Revision weights as revision=weight; 'latest' names the latest revision")
	setCmd.Flags().StringSliceVar(&labelWeights, "label-weight", nil, "Label weights as label=weight")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show traffic weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowTraffic(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(setCmd, showCmd)

	return cmd
}

func newAccessRestrictionCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access-restriction",
		Short: "Manage IP access restrictions",
	}

	var (
		name string
		rule reconciler.AccessRestriction
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Add or update an IP rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetAccessRestriction(ctx, rg, name, rule)
			})
		},
	}
	addName(setCmd, &name)
	setCmd.Flags().StringVar(&rule.Name, "rule-name", "", "Name of the rule")
	setCmd.Flags().StringVar(&rule.IPAddress, "ip-address", "", "IP address or CIDR range")
	setCmd.Flags().StringVar(&rule.Action, "action", "", "Allow or Deny")
	setCmd.Flags().StringVar(&rule.Description, "description", "", "Description of the rule")

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an IP rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.RemoveAccessRestriction(ctx, rg, name, rule.Name)
			})
		},
	}
	addName(removeCmd, &name)
	removeCmd.Flags().StringVar(&rule.Name, "rule-name", "", "Name of the rule")
	_ = removeCmd.MarkFlagRequired("rule-name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List IP rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowAccessRestrictions(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	cmd.AddCommand(setCmd, removeCmd, listCmd)

	return cmd
}

// corsFlags bind the CORS policy flags.
type corsFlags struct {
	origins     []string
	methods     []string
	headers     []string
	expose      []string
	maxAge      string
	credentials bool
}

func (f *corsFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&f.origins, "allowed-origins", nil, "Allowed origins")
	flags.StringSliceVar(&f.methods, "allowed-methods", nil, "Allowed HTTP methods")
	flags.StringSliceVar(&f.headers, "allowed-headers", nil, "Allowed request headers")
	flags.StringSliceVar(&f.expose, "expose-headers", nil, "Response headers exposed to the browser")
	flags.StringVar(&f.maxAge, "max-age", "", "Seconds a preflight response may be cached; empty clears it")
	flags.BoolVar(&f.credentials, "allow-credentials", false, "Allow credentials")
}

func (f *corsFlags) options(cmd *cobra.Command) reconciler.CORSOptions {
	return reconciler.CORSOptions{
		AllowedOrigins:   optSlice(cmd, "allowed-origins", f.origins),
		AllowedMethods:   optSlice(cmd, "allowed-methods", f.methods),
		AllowedHeaders:   optSlice(cmd, "allowed-headers", f.headers),
		ExposeHeaders:    optSlice(cmd, "expose-headers", f.expose),
		MaxAge:           optString(cmd, "max-age", f.maxAge),
		AllowCredentials: optBool(cmd, "allow-credentials", f.credentials),
	}
}

func newCORSCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cors",
		Short: "Manage the CORS policy",
	}

	var (
		name string
		cors corsFlags
	)

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable CORS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.EnableCORS(ctx, rg, name, cors.options(cmd))
			})
		},
	}
	addName(enableCmd, &name)
	cors.register(enableCmd)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update the CORS policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.UpdateCORS(ctx, rg, name, cors.options(cmd))
			})
		},
	}
	addName(updateCmd, &name)
	cors.register(updateCmd)

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable CORS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Apps.DisableCORS(ctx, rg, name)
			})
		},
	}
	addName(disableCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the CORS policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowCORS(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(enableCmd, updateCmd, disableCmd, showCmd)

	return cmd
}

func newStickySessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sticky-sessions",
		Short: "Manage session affinity",
	}

	var name, affinity string

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Set session affinity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.SetStickySessions(ctx, rg, name, affinity)
			})
		},
	}
	addName(setCmd, &name)
	setCmd.Flags().StringVar(&affinity, "affinity", "", "Session affinity (sticky|none)")
	_ = setCmd.MarkFlagRequired("affinity")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show session affinity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowStickySessions(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(setCmd, showCmd)

	return cmd
}
