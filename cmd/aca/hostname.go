package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/certs"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

// certApp addresses app for the certificate manager. Without an explicit
// environment the environment of the app is used.
func certApp(ctx context.Context, r *reconciler.Reconciler, rg, name, environment, location string) (certs.App, error) {
	app := certs.App{ResourceGroup: rg, Name: name, Environment: environment, Location: location}
	if environment != "" {
		return app, nil
	}
	existing, err := r.Apps.Show(ctx, rg, name)
	if err != nil {
		return certs.App{}, err
	}
	if existing.Properties == nil || existing.Properties.EnvironmentID == "" {
		return certs.App{}, apperrors.Validation("container app %s has no environment", name)
	}
	app.Environment = existing.Properties.EnvironmentID
	return app, nil
}

func newHostnameCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hostname",
		Short: "Manage custom domains",
	}

	var (
		name     string
		hostname string
		location string
		bind     certs.BindOptions
	)

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a hostname without a certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.Certificates.AddHostname(ctx, certs.App{ResourceGroup: rg, Name: name, Location: location}, hostname)
			})
		},
	}
	addName(addCmd, &name)
	addHostname(addCmd, &hostname)
	addCmd.Flags().StringVarP(&location, "location", "l", "", "Location the app must be in")

	bindCmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind a hostname to a certificate, requesting a managed one when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				app, err := certApp(ctx, r, rg, name, bind.Environment, bind.Location)
				if err != nil {
					return nil, err
				}
				opts := bind
				opts.Environment = app.Environment
				return r.Apps.Certificates.BindHostname(ctx, app, hostname, opts)
			})
		},
	}
	addName(bindCmd, &name)
	addHostname(bindCmd, &hostname)
	bindCmd.Flags().StringVar(&bind.Certificate, "certificate", "", "Certificate name or id")
	bindCmd.Flags().StringVar(&bind.Thumbprint, "thumbprint", "", "Certificate thumbprint")
	bindCmd.Flags().StringVar(&bind.Environment, flagEnvironment, "", descEnvironment)
	bindCmd.Flags().StringVarP(&bind.Location, "location", "l", "", "Location of the certificate")
	bindCmd.Flags().StringVar(&bind.ValidationMethod, "validation-method", "", "Managed certificate validation (CNAME|HTTP|TXT)")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove a hostname",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.Certificates.DeleteHostname(ctx, certs.App{ResourceGroup: rg, Name: name}, hostname)
			})
		},
	}
	addName(deleteCmd, &name)
	addHostname(deleteCmd, &hostname)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List hostnames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.Certificates.ListHostnames(ctx, certs.App{ResourceGroup: rg, Name: name})
			})
		},
	}
	addName(listCmd, &name)

	cmd.AddCommand(addCmd, bindCmd, deleteCmd, listCmd)

	return cmd
}

func addHostname(cmd *cobra.Command, hostname *string) {
	cmd.Flags().StringVar(hostname, "hostname", "", "Custom domain name")
	_ = cmd.MarkFlagRequired("hostname")
}

func newSSLCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssl",
		Short: "Upload certificates and bind them to hostnames",
	}

	var (
		name        string
		hostname    string
		environment string
		upload      certs.UploadOptions
	)

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a certificate to the app environment and bind a hostname to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				app, err := certApp(ctx, r, rg, name, environment, upload.Location)
				if err != nil {
					return nil, err
				}
				upload.Prompt = !c.opts.yes
				return r.Apps.Certificates.UploadAndBind(ctx, app, hostname, upload)
			})
		},
	}
	addName(uploadCmd, &name)
	addHostname(uploadCmd, &hostname)
	addCertificateFile(uploadCmd, &upload)
	uploadCmd.Flags().StringVar(&environment, flagEnvironment, "", descEnvironment)

	cmd.AddCommand(uploadCmd)

	return cmd
}

func addCertificateFile(cmd *cobra.Command, upload *certs.UploadOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&upload.File, "certificate-file", "f", "", "PFX or PEM file")
	flags.StringVarP(&upload.Password, "password", "p", "", "Certificate file password")
	flags.StringVar(&upload.Name, "certificate-name", "", "Name of the certificate; generated when empty")
	flags.StringVarP(&upload.Location, "location", "l", "", "Location of the certificate")
	_ = cmd.MarkFlagRequired("certificate-file")
}
