// Package main implements the aca CLI.
//
// aca manages Azure Container Apps resources:
//
//	aca app create -g rg -n web --environment env --image nginx
//	aca app ingress traffic set -g rg -n web --label-weight blue=80 green=20
//	aca app up -n web --source .
//	aca env create -g rg -n env --location eastus
//	aca job start -g rg -n nightly
//
// Exit codes: 0 success, 1 validation, 2 remote failure, 3 cancelled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

var (
	// Version is set at build time.
	version = "dev"
)

// CLI constants for flag names and defaults.
const (
	flagName          = "name"
	flagResourceGroup = "resource-group"
	flagEnvironment   = "environment"
	flagNoWait        = "no-wait"
	flagYAML          = "yaml"
	descName          = "Name of the resource"
	descEnvironment   = "Name or resource id of the managed environment"
	descNoWait        = "Do not wait for the long-running operation to finish"
	descYAML          = "Path to a YAML file with the resource definition"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)

	c := newCLI(os.Stdout, os.Stderr)
	err := newRootCmd(c).ExecuteContext(ctx)
	cancel()
	c.sync()

	if err != nil {
		err = apperrors.FromContext(err)
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aca",
		Short: "Azure Container Apps CLI",
		Long: `aca manages Azure Container Apps, jobs and managed environments.

Configuration is read from AZURE_SUBSCRIPTION_ID, AZURE_RESOURCE_GROUP and
the CONTAINERAPPS_* environment variables; persistent flags override them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before cobra's own required flag check, which would
			// otherwise surface as an unclassified error.
			if err := cmd.ValidateRequiredFlags(); err != nil {
				return apperrors.RequiredArgument("%v", err)
			}
			return c.init()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.opts.subscription, "subscription", "", "Subscription id (overrides AZURE_SUBSCRIPTION_ID)")
	flags.StringVarP(&c.opts.resourceGroup, flagResourceGroup, "g", "", "Resource group (overrides AZURE_RESOURCE_GROUP)")
	flags.StringVarP(&c.opts.output, "output", "o", outputJSON, "Output format (json|yaml)")
	flags.BoolVar(&c.opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVarP(&c.opts.yes, "yes", "y", false, "Do not prompt for confirmation")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperrors.Validation("%v", err)
	})

	cmd.AddCommand(
		newAppCmd(c),
		newEnvCmd(c),
		newJobCmd(c),
	)

	return cmd
}

// addName registers the required --name flag.
func addName(cmd *cobra.Command, name *string) {
	cmd.Flags().StringVarP(name, flagName, "n", "", descName)
	_ = cmd.MarkFlagRequired(flagName)
}

func addNoWait(cmd *cobra.Command, noWait *bool) {
	cmd.Flags().BoolVar(noWait, flagNoWait, false, descNoWait)
}

// logDone logs the end of a mutating verb.
func (c *cli) logDone(verb, kind, name string) {
	c.logger.Info("Completed",
		zap.String("verb", verb),
		zap.String("kind", kind),
		zap.String("name", name),
	)
}
