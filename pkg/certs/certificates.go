package certs

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Confirm asks the user a yes/no question.
type Confirm func(question string) bool

// Environment addresses a managed environment.
type Environment struct {
	ResourceGroup string
	Name          string
}

// EnvironmentFrom resolves nameOrID; a bare name lives in rg.
func EnvironmentFrom(rg, nameOrID string) (Environment, error) {
	if !envelope.IsResourceID(nameOrID) {
		return Environment{ResourceGroup: rg, Name: nameOrID}, nil
	}
	rid, err := envelope.ParseResourceID(nameOrID)
	if err != nil {
		return Environment{}, apperrors.Validation("invalid environment %q: %v", nameOrID, err)
	}
	return Environment{ResourceGroup: rid.ResourceGroup, Name: rid.Name}, nil
}

// Manager runs certificate and custom domain operations.
type Manager struct {
	apps    *clients.ContainerApps
	envs    *clients.ManagedEnvironments
	logger  *zap.Logger
	confirm Confirm
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfirm sets the prompt used for interactive questions.
func WithConfirm(c Confirm) Option {
	return func(m *Manager) {
		m.confirm = c
	}
}

// NewManager creates a certificate manager.
func NewManager(c *clients.Clients, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		apps:   c.Apps,
		envs:   c.Environments,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListOptions filter certificate listings.
type ListOptions struct {
	Location    string
	Certificate string
	Thumbprint  string
	ManagedOnly bool
	PrivateOnly bool
}

// List is the result of a certificate listing.
type List struct {
	Managed []envelope.ManagedCertificate
	Private []envelope.Certificate
}

// All returns managed certificates followed by private ones.
func (l *List) All() []any {
	out := make([]any, 0, len(l.Managed)+len(l.Private))
	for i := range l.Managed {
		out = append(out, &l.Managed[i])
	}
	for i := range l.Private {
		out = append(out, &l.Private[i])
	}
	return out
}

// Len returns the number of certificates.
func (l *List) Len() int {
	return len(l.Managed) + len(l.Private)
}

type certKind int

const (
	kindAny certKind = iota
	kindPrivate
	kindManaged
)

// certificateRef splits a certificate name or id into name and kind.
func certificateRef(certificate string) (string, certKind, error) {
	if !envelope.IsResourceID(certificate) {
		return certificate, kindAny, nil
	}
	rid, err := envelope.ParseResourceID(certificate)
	if err != nil {
		return "", kindAny, apperrors.Validation("invalid certificate %q: %v", certificate, err)
	}
	switch {
	case strings.EqualFold(rid.Type, envelope.TypeManagedCertificate):
		return rid.Name, kindManaged, nil
	case strings.EqualFold(rid.Type, envelope.TypeCertificate):
		return rid.Name, kindPrivate, nil
	}
	return "", kindAny, apperrors.Validation("%q is not a certificate id", certificate)
}

// List lists the certificates of env. Without a kind filter, managed and
// private certificates are fetched concurrently.
func (m *Manager) List(ctx context.Context, env Environment, opts ListOptions) (*List, error) {
	if opts.ManagedOnly && opts.PrivateOnly {
		return nil, apperrors.Validation("use either '--managed-certificates-only' or '--private-key-certificates-only'")
	}
	if opts.ManagedOnly && opts.Thumbprint != "" {
		return nil, apperrors.Validation("'--thumbprint' not supported for managed certificates")
	}

	name, kind, err := certificateRef(opts.Certificate)
	if err != nil {
		return nil, err
	}
	if kind == kindAny {
		switch {
		case opts.PrivateOnly || opts.Thumbprint != "":
			kind = kindPrivate
		case opts.ManagedOnly:
			kind = kindManaged
		}
	}

	out := &List{}
	switch kind {
	case kindManaged:
		out.Managed, err = m.managed(ctx, env, name, opts.Location)
	case kindPrivate:
		out.Private, err = m.private(ctx, env, name, opts.Thumbprint, opts.Location)
	default:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			out.Managed, err = m.managed(gctx, env, name, opts.Location)
			return err
		})
		g.Go(func() error {
			var err error
			out.Private, err = m.private(gctx, env, name, opts.Thumbprint, opts.Location)
			return err
		})
		err = g.Wait()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) private(ctx context.Context, env Environment, name, thumbprint, location string) ([]envelope.Certificate, error) {
	var candidates []envelope.Certificate
	if name != "" {
		cert, found, err := m.envs.ShowCertificate(ctx, env.ResourceGroup, env.Name, name)
		if err != nil {
			return nil, err
		}
		if found {
			candidates = append(candidates, *cert)
		}
	} else {
		all, err := m.envs.ListCertificates(ctx, env.ResourceGroup, env.Name)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	out := make([]envelope.Certificate, 0, len(candidates))
	for _, c := range candidates {
		if locationMatches(c.Location, location) && (thumbprint == "" || c.Thumbprint() == thumbprint) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Manager) managed(ctx context.Context, env Environment, name, location string) ([]envelope.ManagedCertificate, error) {
	var candidates []envelope.ManagedCertificate
	if name != "" {
		cert, found, err := m.envs.ShowManagedCertificate(ctx, env.ResourceGroup, env.Name, name)
		if err != nil {
			return nil, err
		}
		if found {
			candidates = append(candidates, *cert)
		}
	} else {
		all, err := m.envs.ListManagedCertificates(ctx, env.ResourceGroup, env.Name)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	out := make([]envelope.ManagedCertificate, 0, len(candidates))
	for _, c := range candidates {
		if locationMatches(c.Location, location) {
			out = append(out, c)
		}
	}
	return out, nil
}

var locationReplacer = strings.NewReplacer("(", "", ")", "")

func locationMatches(actual, wanted string) bool {
	if wanted == "" {
		return true
	}
	return locationReplacer.Replace(validate.NormalizeLocation(actual)) == locationReplacer.Replace(validate.NormalizeLocation(wanted))
}

// UploadOptions describe a private certificate upload.
type UploadOptions struct {
	File     string
	Password string
	Name     string
	Location string
	// Prompt asks before overwriting an existing certificate of the same
	// name instead of warning.
	Prompt bool
}

// Upload uploads a PFX or PEM file as a private certificate. An existing
// certificate of the requested name is overwritten; without a name one is
// generated.
func (m *Manager) Upload(ctx context.Context, env Environment, opts UploadOptions) (*envelope.Certificate, error) {
	file, err := Load(opts.File, opts.Password)
	if err != nil {
		return nil, err
	}

	name := ""
	if opts.Name != "" {
		avail, err := m.checkName(ctx, env, opts.Name)
		if err != nil {
			return nil, err
		}
		switch {
		case avail.NameAvailable:
			name = opts.Name
		case avail.Reason == envelope.ReasonAlreadyExists:
			overwrite := true
			if opts.Prompt && m.confirm != nil {
				overwrite = m.confirm(avail.Message + ". If continue with this name, it will be overwritten by the new certificate file.\nOverwrite?")
			} else {
				m.logger.Warn("Certificate will be overwritten by the new certificate file",
					zap.String("certificate", opts.Name),
					zap.String("reason", avail.Message),
				)
			}
			if overwrite {
				name = opts.Name
			}
		default:
			return nil, apperrors.Validation("%s", avail.Message)
		}
	}

	for attempt := 0; name == ""; attempt++ {
		if attempt == maxNameGenerations {
			return nil, apperrors.Internal("failed to generate an available certificate name for environment %s", env.Name)
		}
		candidate := RandomName(file.Thumbprint, env.Name, env.ResourceGroup)
		avail, err := m.checkName(ctx, env, candidate)
		if err != nil {
			return nil, err
		}
		if avail.NameAvailable {
			name = candidate
		} else if avail.Reason == envelope.ReasonInvalid {
			return nil, apperrors.Validation("%s", avail.Message)
		}
	}

	location, err := m.location(ctx, env, opts.Location)
	if err != nil {
		return nil, err
	}

	cert := &envelope.Certificate{
		Location: location,
		Properties: &envelope.CertificateProperties{
			Password: opts.Password,
			Value:    file.Blob,
		},
	}
	m.logger.Info("Uploading certificate",
		zap.String("environment", env.Name),
		zap.String("certificate", name),
		zap.String("thumbprint", file.Thumbprint),
	)
	return m.envs.CreateOrUpdateCertificate(ctx, env.ResourceGroup, env.Name, name, cert)
}

func (m *Manager) checkName(ctx context.Context, env Environment, name string) (*envelope.CheckNameAvailabilityResponse, error) {
	return m.envs.CheckNameAvailability(ctx, env.ResourceGroup, env.Name, envelope.CheckNameAvailabilityRequest{
		Name: name,
		Type: envelope.TypeCertificate,
	})
}

// location returns explicit or the location of env.
func (m *Manager) location(ctx context.Context, env Environment, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	e, found, err := m.envs.Show(ctx, env.ResourceGroup, env.Name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperrors.NotFound("the containerapp environment '%s' does not exist", env.Name)
	}
	return e.Location, nil
}

// DeleteOptions select the certificates to delete.
type DeleteOptions struct {
	Certificate string
	Thumbprint  string
	Location    string
}

// Delete deletes certificates by name, id or thumbprint. A bare name that
// matches both a managed and a private certificate is ambiguous.
func (m *Manager) Delete(ctx context.Context, env Environment, opts DeleteOptions) error {
	if opts.Certificate == "" && opts.Thumbprint == "" {
		return apperrors.RequiredArgument("please specify at least one of parameters: --certificate and --thumbprint")
	}
	name, kind, err := certificateRef(opts.Certificate)
	if err != nil {
		return err
	}
	if opts.Thumbprint != "" {
		kind = kindPrivate
	}

	switch kind {
	case kindPrivate:
		certs, err := m.private(ctx, env, name, opts.Thumbprint, opts.Location)
		if err != nil {
			return err
		}
		if len(certs) == 0 {
			what := "'" + name + "'"
			if name == "" {
				what = "with thumbprint '" + opts.Thumbprint + "'"
			}
			return apperrors.NotFound("the certificate %s does not exist in Container app environment '%s'", what, env.Name)
		}
		for _, c := range certs {
			if err := m.deletePrivate(ctx, env, c.Name); err != nil {
				return err
			}
		}
		return nil

	case kindManaged:
		return m.deleteManaged(ctx, env, name)
	}

	var managed []envelope.ManagedCertificate
	var private []envelope.Certificate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		all, err := m.managed(gctx, env, "", opts.Location)
		managed = filterByName(all, name, func(c envelope.ManagedCertificate) string { return c.Name })
		return err
	})
	g.Go(func() error {
		all, err := m.private(gctx, env, "", "", opts.Location)
		private = filterByName(all, name, func(c envelope.Certificate) string { return c.Name })
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	switch {
	case len(managed) == 0 && len(private) == 0:
		return apperrors.NotFound("the certificate '%s' does not exist in Container app environment '%s'", name, env.Name)
	case len(managed) > 0 && len(private) > 0:
		return apperrors.Validation("found more than one certificates with name '%s':\n'%s',\n'%s'.\nPlease specify the certificate id using --certificate",
			name, managed[0].ID, private[0].ID)
	case len(private) > 0:
		return m.deletePrivate(ctx, env, name)
	}
	return m.deleteManaged(ctx, env, name)
}

func (m *Manager) deletePrivate(ctx context.Context, env Environment, name string) error {
	if err := m.envs.DeleteCertificate(ctx, env.ResourceGroup, env.Name, name); err != nil {
		return err
	}
	m.logger.Info("Certificate deleted", zap.String("certificate", name))
	return nil
}

func (m *Manager) deleteManaged(ctx context.Context, env Environment, name string) error {
	if err := m.envs.DeleteManagedCertificate(ctx, env.ResourceGroup, env.Name, name); err != nil {
		return err
	}
	m.logger.Info("Managed certificate deleted", zap.String("certificate", name))
	return nil
}

func filterByName[T any](certs []T, name string, nameOf func(T) string) []T {
	var out []T
	for _, c := range certs {
		if nameOf(c) == name {
			out = append(out, c)
		}
	}
	return out
}

// ManagedOptions describe a managed certificate request.
type ManagedOptions struct {
	Hostname         string
	ValidationMethod string
	Name             string
	Location         string
	NoWait           bool
}

// CreateManaged requests a managed certificate for a hostname.
func (m *Manager) CreateManaged(ctx context.Context, env Environment, opts ManagedOptions) (*envelope.ManagedCertificate, error) {
	method, err := ValidationMethod(opts.ValidationMethod)
	if err != nil {
		return nil, err
	}
	hostname := strings.ToLower(opts.Hostname)
	if err := validate.Hostname(hostname); err != nil {
		return nil, err
	}

	name := opts.Name
	if name != "" {
		available, err := m.managedNameAvailable(ctx, env, name)
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, apperrors.Validation("certificate name '%s' is not available", name)
		}
	} else if name, err = m.generateManagedName(ctx, env, hostname); err != nil {
		return nil, err
	}

	return m.issueManaged(ctx, env, name, hostname, method, opts.Location, opts.NoWait)
}

func (m *Manager) issueManaged(ctx context.Context, env Environment, name, hostname, method, location string, noWait bool) (*envelope.ManagedCertificate, error) {
	location, err := m.location(ctx, env, location)
	if err != nil {
		return nil, err
	}
	cert := &envelope.ManagedCertificate{
		Location: location,
		Properties: &envelope.ManagedCertificateProperties{
			SubjectName:             hostname,
			DomainControlValidation: method,
		},
	}
	m.logger.Info("Creating managed certificate, issuance may take up to 20 minutes",
		zap.String("certificate", name),
		zap.String("hostname", hostname),
		zap.String("validationMethod", method),
	)
	return m.envs.CreateManagedCertificate(ctx, env.ResourceGroup, env.Name, name, cert, noWait)
}

func (m *Manager) generateManagedName(ctx context.Context, env Environment, hostname string) (string, error) {
	for range maxNameGenerations {
		candidate := RandomManagedName(hostname, env.Name)
		available, err := m.managedNameAvailable(ctx, env, candidate)
		if err != nil {
			return "", err
		}
		if available {
			return candidate, nil
		}
	}
	return "", apperrors.Internal("failed to generate an available managed certificate name for environment %s", env.Name)
}

// managedNameAvailable reports whether no live managed certificate uses
// name. Failed certificates do not hold their name.
func (m *Manager) managedNameAvailable(ctx context.Context, env Environment, name string) (bool, error) {
	certs, err := m.envs.ListManagedCertificates(ctx, env.ResourceGroup, env.Name)
	if err != nil {
		return false, err
	}
	for _, c := range certs {
		if c.Name != name || c.Properties == nil {
			continue
		}
		switch strings.ToLower(c.Properties.ProvisioningState) {
		case "pending", "succeeded", "updating":
			return false, nil
		}
	}
	return true, nil
}

// ValidationMethod normalises a domain control validation method.
func ValidationMethod(method string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(method))
	switch upper {
	case envelope.ValidationTXT, envelope.ValidationCNAME, envelope.ValidationHTTP:
		return upper, nil
	case "":
		return "", apperrors.RequiredArgument("please specify the parameter: --validation-method")
	}
	return "", apperrors.Validation("invalid validation method %q: must be one of TXT, CNAME, HTTP", method)
}
