package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/certs"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
)

func newEnvCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage container apps environments",
	}

	var (
		name     string
		location string
		noWait   bool
	)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.confirm("Are you sure you want to delete environment " + name + "?") {
				return apperrors.Validation("deletion of %s was not confirmed; pass --yes to skip the prompt", name)
			}
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				if err := r.Environments.Delete(ctx, rg, name, noWait); err != nil {
					return nil, err
				}
				c.logDone("delete", "managedEnvironment", name)
				return nil, nil
			})
		},
	}
	addName(deleteCmd, &name)
	addNoWait(deleteCmd, &noWait)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.Show(ctx, rg, name)
			})
		},
	}
	addName(showCmd, &name)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List environments in a resource group or the subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.List(ctx, rg)
			})
		},
	}

	usagesCmd := &cobra.Command{
		Use:   "list-usages",
		Short: "List quota usage of an environment, or of the subscription in a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ListUsages(ctx, rg, name, location)
			})
		},
	}
	usagesCmd.Flags().StringVarP(&name, flagName, "n", "", "Name of the environment")
	usagesCmd.Flags().StringVarP(&location, "location", "l", "", "Location for subscription usage")

	verificationCmd := &cobra.Command{
		Use:   "show-verification-id",
		Short: "Show the TXT record value that proves custom domain ownership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, _ string) (any, error) {
				id, err := r.Environments.CustomDomainVerificationID(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"customDomainVerificationId": id}, nil
			})
		},
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream environment logs (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apperrors.Validation("%v: log streaming is not supported by this build", reconciler.ErrUnsupported)
		},
	}

	cmd.AddCommand(
		newEnvCreateCmd(c),
		newEnvUpdateCmd(c),
		deleteCmd,
		showCmd,
		listCmd,
		usagesCmd,
		verificationCmd,
		logsCmd,
		newEnvCertificateCmd(c),
		newDaprComponentCmd(c),
		newStorageCmd(c),
		newWorkloadProfileCmd(c),
	)

	return cmd
}

// customDomainFlags bind the environment DNS suffix flags.
type customDomainFlags struct {
	dnsSuffix string
	file      string
	password  string
}

func (f *customDomainFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.dnsSuffix, "custom-domain-dns-suffix", "", "DNS suffix of the environment")
	flags.StringVar(&f.file, "custom-domain-certificate-file", "", "PFX or PEM certificate for the DNS suffix")
	flags.StringVar(&f.password, "custom-domain-certificate-password", "", "Certificate password")
}

func (f *customDomainFlags) options() *reconciler.CustomDomainOptions {
	if f.dnsSuffix == "" && f.file == "" {
		return nil
	}
	return &reconciler.CustomDomainOptions{
		DNSSuffix:           f.dnsSuffix,
		CertificateFile:     f.file,
		CertificatePassword: f.password,
	}
}

func addLogsFlags(cmd *cobra.Command, destination, customerID, key *string) {
	flags := cmd.Flags()
	flags.StringVar(destination, "logs-destination", "", "Logs destination (log-analytics|azure-monitor|none)")
	flags.StringVar(customerID, "logs-workspace-id", "", "Log Analytics workspace customer id")
	flags.StringVar(key, "logs-workspace-key", "", "Log Analytics workspace shared key")
}

func newEnvCreateCmd(c *cli) *cobra.Command {
	var (
		opts           reconciler.CreateEnvironmentOptions
		domain         customDomainFlags
		tagPairs       []string
		mtls           bool
		peerEncryption bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(tagPairs)
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.CustomDomain = domain.options()
				opts.Flags.MTLS = optBool(cmd, "enable-mtls", mtls)
				opts.Flags.PeerEncryption = optBool(cmd, "enable-peer-to-peer-encryption", peerEncryption)
				opts.Tags = t
				return r.Environments.Create(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	flags := cmd.Flags()
	f := &opts.Flags
	flags.StringVarP(&f.Location, "location", "l", "", "Location of the environment")
	flags.StringVar(&f.InfrastructureSubnetID, "infrastructure-subnet-resource-id", "", "Subnet for the infrastructure components")
	flags.StringVar(&f.PlatformReservedCidr, "platform-reserved-cidr", "", "CIDR range for infrastructure IPs")
	flags.StringVar(&f.DockerBridgeCidr, "docker-bridge-cidr", "", "CIDR range for the docker bridge")
	flags.StringVar(&f.PlatformReservedDNSIP, "platform-reserved-dns-ip", "", "DNS server IP within the platform reserved CIDR")
	flags.BoolVar(&f.Internal, "internal-only", false, "Only accept traffic from the virtual network")
	flags.BoolVar(&f.ZoneRedundant, "zone-redundant", false, "Enable zone redundancy")
	flags.BoolVar(&mtls, "enable-mtls", false, "Enable mTLS between apps")
	flags.BoolVar(&peerEncryption, "enable-peer-to-peer-encryption", false, "Enable peer traffic encryption")
	addLogsFlags(cmd, &f.LogsDestination, &f.LogsCustomerID, &f.LogsKey)
	flags.BoolVar(&opts.EnableWorkloadProfiles, "enable-workload-profiles", true, "Create the environment with workload profiles")
	flags.StringVar(&opts.DaprAIInstrumentationKey, "dapr-instrumentation-key", "", "Application Insights key for Dapr telemetry")
	flags.StringVar(&opts.DaprAIConnectionString, "dapr-connection-string", "", "Application Insights connection string for Dapr telemetry")
	flags.StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	domain.register(cmd)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newEnvUpdateCmd(c *cli) *cobra.Command {
	var (
		opts           reconciler.UpdateEnvironmentOptions
		domain         customDomainFlags
		profile        workloadProfileFlags
		tagPairs       []string
		mtls           bool
		peerEncryption bool
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				t, err := tags(optSlice(cmd, "tags", tagPairs))
				if err != nil {
					return nil, err
				}
				opts.ResourceGroup = rg
				opts.CustomDomain = domain.options()
				opts.MTLS = optBool(cmd, "enable-mtls", mtls)
				opts.PeerEncryption = optBool(cmd, "enable-peer-to-peer-encryption", peerEncryption)
				opts.Tags = t
				if profile.opts.Name != "" {
					p := profile.options(cmd)
					opts.WorkloadProfile = &p
				}
				return r.Environments.Update(ctx, opts)
			})
		},
	}

	addName(cmd, &opts.Name)
	flags := cmd.Flags()
	addLogsFlags(cmd, &opts.LogsDestination, &opts.LogsCustomerID, &opts.LogsKey)
	flags.BoolVar(&mtls, "enable-mtls", false, "Enable mTLS between apps")
	flags.BoolVar(&peerEncryption, "enable-peer-to-peer-encryption", false, "Enable peer traffic encryption")
	flags.StringSliceVar(&tagPairs, "tags", nil, "Tags as key=value")
	domain.register(cmd)
	profile.register(cmd)
	addNoWait(cmd, &opts.NoWait)

	return cmd
}

func newEnvCertificateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Manage environment certificates",
	}

	var (
		name    string
		list    certs.ListOptions
		upload  certs.UploadOptions
		del     certs.DeleteOptions
		managed certs.ManagedOptions
	)

	env := func(rg string) (certs.Environment, error) {
		return certs.EnvironmentFrom(rg, name)
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List managed and private certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				e, err := env(rg)
				if err != nil {
					return nil, err
				}
				out, err := r.Apps.Certificates.List(ctx, e, list)
				if err != nil {
					return nil, err
				}
				return out.All(), nil
			})
		},
	}
	addName(listCmd, &name)
	listCmd.Flags().StringVarP(&list.Location, "location", "l", "", "Only certificates in this location")
	listCmd.Flags().StringVarP(&list.Certificate, "certificate", "c", "", "Certificate name or id")
	listCmd.Flags().StringVarP(&list.Thumbprint, "thumbprint", "t", "", "Certificate thumbprint")
	listCmd.Flags().BoolVar(&list.ManagedOnly, "managed-certificates-only", false, "Only managed certificates")
	listCmd.Flags().BoolVar(&list.PrivateOnly, "private-key-certificates-only", false, "Only private certificates")

	uploadCmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a private certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				e, err := env(rg)
				if err != nil {
					return nil, err
				}
				upload.Prompt = !c.opts.yes
				return r.Apps.Certificates.Upload(ctx, e, upload)
			})
		},
	}
	addName(uploadCmd, &name)
	addCertificateFile(uploadCmd, &upload)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Request a managed certificate for a hostname",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				e, err := env(rg)
				if err != nil {
					return nil, err
				}
				return r.Apps.Certificates.CreateManaged(ctx, e, managed)
			})
		},
	}
	addName(createCmd, &name)
	addHostname(createCmd, &managed.Hostname)
	createCmd.Flags().StringVarP(&managed.ValidationMethod, "validation-method", "v", "", "Domain validation (CNAME|HTTP|TXT)")
	createCmd.Flags().StringVarP(&managed.Name, "certificate-name", "c", "", "Name of the certificate; generated when empty")
	createCmd.Flags().StringVarP(&managed.Location, "location", "l", "", "Location of the certificate")
	_ = createCmd.MarkFlagRequired("validation-method")
	addNoWait(createCmd, &managed.NoWait)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete certificates by name, id or thumbprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				e, err := env(rg)
				if err != nil {
					return nil, err
				}
				return nil, r.Apps.Certificates.Delete(ctx, e, del)
			})
		},
	}
	addName(deleteCmd, &name)
	deleteCmd.Flags().StringVarP(&del.Certificate, "certificate", "c", "", "Certificate name or id")
	deleteCmd.Flags().StringVarP(&del.Thumbprint, "thumbprint", "t", "", "Certificate thumbprint")
	deleteCmd.Flags().StringVarP(&del.Location, "location", "l", "", "Location of the certificate")

	cmd.AddCommand(listCmd, uploadCmd, createCmd, deleteCmd)

	return cmd
}

func newDaprComponentCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dapr-component",
		Short: "Manage Dapr components",
	}

	var name, component, path string

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace a Dapr component from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.SetDaprComponent(ctx, rg, name, component, path)
			})
		},
	}
	addName(setCmd, &name)
	addComponent(setCmd, &component)
	setCmd.Flags().StringVar(&path, flagYAML, "", "Path to the component YAML file")
	_ = setCmd.MarkFlagRequired(flagYAML)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a Dapr component",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ShowDaprComponent(ctx, rg, name, component)
			})
		},
	}
	addName(showCmd, &name)
	addComponent(showCmd, &component)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List Dapr components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ListDaprComponents(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a Dapr component",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Environments.RemoveDaprComponent(ctx, rg, name, component)
			})
		},
	}
	addName(removeCmd, &name)
	addComponent(removeCmd, &component)

	cmd.AddCommand(setCmd, showCmd, listCmd, removeCmd)

	return cmd
}

func addComponent(cmd *cobra.Command, component *string) {
	cmd.Flags().StringVar(component, "dapr-component-name", "", "Name of the Dapr component")
	_ = cmd.MarkFlagRequired("dapr-component-name")
}

func newStorageCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Manage Azure Files storages",
	}

	var (
		name    string
		storage string
		opts    reconciler.StorageOptions
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.SetStorage(ctx, rg, name, storage, opts)
			})
		},
	}
	addName(setCmd, &name)
	addStorage(setCmd, &storage)
	setCmd.Flags().StringVarP(&opts.AccountName, "azure-file-account-name", "a", "", "Storage account name")
	setCmd.Flags().StringVarP(&opts.AccountKey, "azure-file-account-key", "k", "", "Storage account key")
	setCmd.Flags().StringVarP(&opts.ShareName, "azure-file-share-name", "f", "", "File share name")
	setCmd.Flags().StringVar(&opts.AccessMode, "access-mode", "", "ReadOnly or ReadWrite")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ShowStorage(ctx, rg, name, storage)
			})
		},
	}
	addName(showCmd, &name)
	addStorage(showCmd, &storage)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List storages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ListStorages(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return nil, r.Environments.RemoveStorage(ctx, rg, name, storage)
			})
		},
	}
	addName(removeCmd, &name)
	addStorage(removeCmd, &storage)

	cmd.AddCommand(setCmd, showCmd, listCmd, removeCmd)

	return cmd
}

func addStorage(cmd *cobra.Command, storage *string) {
	cmd.Flags().StringVar(storage, "storage-name", "", "Name of the storage")
	_ = cmd.MarkFlagRequired("storage-name")
}

// workloadProfileFlags bind a dedicated workload profile.
type workloadProfileFlags struct {
	opts reconciler.WorkloadProfileOptions
	min  int32
	max  int32
}

func (f *workloadProfileFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.opts.Name, "workload-profile-name", "w", "", "Name of the workload profile")
	flags.StringVar(&f.opts.Type, "workload-profile-type", "", "Type of the workload profile, e.g. D4")
	flags.Int32Var(&f.min, "min-nodes", 0, "Minimum node count")
	flags.Int32Var(&f.max, "max-nodes", 0, "Maximum node count")
}

func (f *workloadProfileFlags) options(cmd *cobra.Command) reconciler.WorkloadProfileOptions {
	o := f.opts
	o.MinimumCount = optInt32(cmd, "min-nodes", f.min)
	o.MaximumCount = optInt32(cmd, "max-nodes", f.max)
	return o
}

func newWorkloadProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload-profile",
		Short: "Manage workload profiles",
	}

	var (
		name     string
		location string
		profile  workloadProfileFlags
		noWait   bool
	)

	supportedCmd := &cobra.Command{
		Use:   "list-supported",
		Short: "List the workload profile types offered in a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScoped(cmd, func(ctx context.Context, r *reconciler.Reconciler, _ string) (any, error) {
				return r.Environments.ListSupportedProfiles(ctx, location)
			})
		},
	}
	supportedCmd.Flags().StringVarP(&location, "location", "l", "", "Location")
	_ = supportedCmd.MarkFlagRequired("location")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the workload profiles of an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ListProfiles(ctx, rg, name)
			})
		},
	}
	addName(listCmd, &name)

	statesCmd := &cobra.Command{
		Use:   "list-states",
		Short: "List the node states of the workload profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ListProfileStates(ctx, rg, name)
			})
		},
	}
	addName(statesCmd, &name)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a workload profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.ShowProfile(ctx, rg, name, profile.opts.Name)
			})
		},
	}
	addName(showCmd, &name)
	showCmd.Flags().StringVarP(&profile.opts.Name, "workload-profile-name", "w", "", "Name of the workload profile")
	_ = showCmd.MarkFlagRequired("workload-profile-name")

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a dedicated workload profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.AddProfile(ctx, rg, name, profile.options(cmd), noWait)
			})
		},
	}
	addName(addCmd, &name)
	profile.register(addCmd)
	_ = addCmd.MarkFlagRequired("workload-profile-type")
	addNoWait(addCmd, &noWait)

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update the node counts of a workload profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.UpdateProfile(ctx, rg, name, profile.options(cmd), noWait)
			})
		},
	}
	addName(updateCmd, &name)
	profile.register(updateCmd)
	addNoWait(updateCmd, &noWait)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a workload profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, r *reconciler.Reconciler, rg string) (any, error) {
				return r.Environments.DeleteProfile(ctx, rg, name, profile.opts.Name, noWait)
			})
		},
	}
	addName(deleteCmd, &name)
	deleteCmd.Flags().StringVarP(&profile.opts.Name, "workload-profile-name", "w", "", "Name of the workload profile")
	_ = deleteCmd.MarkFlagRequired("workload-profile-name")
	addNoWait(deleteCmd, &noWait)

	cmd.AddCommand(supportedCmd, listCmd, statesCmd, showCmd, addCmd, updateCmd, deleteCmd)

	return cmd
}
