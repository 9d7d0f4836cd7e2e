package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

// authProvider describes the flags of one built-in identity provider.
type authProvider struct {
	use        string
	title      string
	key        string
	idFlag     string
	secretFlag string
	scopes     bool
	audiences  bool
	graph      bool
	microsoft  bool
}

var authProviders = []authProvider{
	{use: "microsoft", title: "Microsoft Entra ID", key: reconciler.ProviderMicrosoft, idFlag: "client-id", secretFlag: "client-secret", audiences: true, microsoft: true},
	{use: "facebook", title: "Facebook", key: reconciler.ProviderFacebook, idFlag: "app-id", secretFlag: "app-secret", scopes: true, graph: true},
	{use: "github", title: "GitHub", key: reconciler.ProviderGitHub, idFlag: "client-id", secretFlag: "client-secret", scopes: true},
	{use: "google", title: "Google", key: reconciler.ProviderGoogle, idFlag: "client-id", secretFlag: "client-secret", scopes: true, audiences: true},
	{use: "twitter", title: "Twitter", key: reconciler.ProviderTwitter, idFlag: "consumer-key", secretFlag: "consumer-secret"},
	{use: "apple", title: "Apple", key: reconciler.ProviderApple, idFlag: "client-id", secretFlag: "client-secret", scopes: true},
}

func newAuthProviderCmds(c *cli) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(authProviders))
	for _, p := range authProviders {
		cmds = append(cmds, newAuthProviderCmd(c, p))
	}
	return cmds
}

func newAuthProviderCmd(c *cli, p authProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   p.use,
		Short: "Manage the " + p.title + " identity provider",
	}

	var (
		name      string
		opts      reconciler.ProviderOptions
		scopes    []string
		audiences []string
	)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update the " + p.title + " identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				opts.Scopes = optSlice(cmd, "scopes", scopes)
				opts.AllowedAudiences = optSlice(cmd, "allowed-token-audiences", audiences)
				opts.SecretConfirmed = c.secretConfirmed(opts.ClientSecret)
				if p.microsoft {
					opts.Authority = authority(c.endpoint())
				}
				return r.Apps.UpdateAuthProvider(ctx, rg, name, p.key, opts)
			})
		},
	}
	addName(updateCmd, &name)
	f := updateCmd.Flags()
	f.StringVar(&opts.ClientID, p.idFlag, "", "Client id issued by "+p.title)
	f.StringVar(&opts.ClientSecret, p.secretFlag, "", "Client secret, stored as a container app secret")
	f.StringVar(&opts.ClientSecretSettingName, p.secretFlag+"-setting-name", "", "Container app secret holding the client secret")
	if p.scopes {
		f.StringSliceVar(&scopes, "scopes", nil, "Scopes requested at login")
	}
	if p.audiences {
		f.StringSliceVar(&audiences, "allowed-token-audiences", nil, "Audiences accepted in tokens")
	}
	if p.graph {
		f.StringVar(&opts.GraphAPIVersion, "graph-api-version", "", "Facebook Graph API version")
	}
	if p.microsoft {
		f.StringVar(&opts.Issuer, "issuer", "", "OpenID issuer URL")
		f.StringVar(&opts.TenantID, "tenant-id", "", "Tenant whose v2.0 issuer is used")
		f.StringVar(&opts.CertificateThumbprint, "thumbprint", "", "Thumbprint of the client certificate")
		f.StringVar(&opts.CertificateSAN, "san", "", "Subject alternative name of the client certificate")
		f.StringVar(&opts.CertificateIssuer, "certificate-issuer", "", "Issuer of the client certificate")
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the " + p.title + " identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowAuthProvider(ctx, rg, name, p.key)
			})
		},
	}
	addName(showCmd, &name)

	cmd.AddCommand(updateCmd, showCmd)

	return cmd
}

func newOIDCProviderCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openid-connect",
		Short: "Manage custom OpenID Connect identity providers",
	}

	var (
		name     string
		provider string
		opts     reconciler.ProviderOptions
		scopes   []string
	)

	register := func(cmd *cobra.Command, settings bool) {
		addName(cmd, &name)
		cmd.Flags().StringVar(&provider, "provider-name", "", "Name of the custom provider")
		_ = cmd.MarkFlagRequired("provider-name")
		if !settings {
			return
		}
		f := cmd.Flags()
		f.StringVar(&opts.ClientID, "client-id", "", "Client id issued by the provider")
		f.StringVar(&opts.ClientSecret, "client-secret", "", "Client secret, stored as a container app secret")
		f.StringVar(&opts.ClientSecretSettingName, "client-secret-setting-name", "", "Container app secret holding the client secret")
		f.StringVar(&opts.OpenIDConfiguration, "openid-configuration", "", "Well-known OpenID configuration URL")
		f.StringSliceVar(&scopes, "scopes", nil, "Scopes requested at login")
	}
	prepare := func(cmd *cobra.Command) {
		opts.Scopes = optSlice(cmd, "scopes", scopes)
		opts.SecretConfirmed = c.secretConfirmed(opts.ClientSecret)
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a custom OpenID Connect provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				prepare(cmd)
				return r.Apps.AddOIDCProvider(ctx, rg, name, provider, opts)
			})
		},
	}
	register(addCmd, true)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update a custom OpenID Connect provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				prepare(cmd)
				return r.Apps.UpdateOIDCProvider(ctx, rg, name, provider, opts)
			})
		},
	}
	register(updateCmd, true)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a custom OpenID Connect provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Apps.ShowOIDCProvider(ctx, rg, name, provider)
			})
		},
	}
	register(showCmd, false)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a custom OpenID Connect provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Apps.RemoveOIDCProvider(ctx, rg, name, provider)
			})
		},
	}
	register(removeCmd, false)

	cmd.AddCommand(addCmd, updateCmd, showCmd, removeCmd)

	return cmd
}

// secretConfirmed asks before a client secret is stored on the app.
func (c *cli) secretConfirmed(secret string) bool {
	return secret != "" && c.confirm("Configuring a client secret adds a secret to the container app. Continue?")
}

func (c *cli) endpoint() string {
	if c.cfg == nil {
		return ""
	}
	return c.cfg.Endpoint
}
