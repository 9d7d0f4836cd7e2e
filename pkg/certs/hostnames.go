package certs

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

const verificationPassed = "Passed"

// App addresses a container app and, optionally, the environment and
// location it must be in.
type App struct {
	ResourceGroup string
	Name          string
	// Environment is a name or id; empty skips the check.
	Environment string
	// Location is empty to skip the check.
	Location string
}

// CheckDNS asks the service whether the DNS records of hostname are in
// place for app.
func (m *Manager) CheckDNS(ctx context.Context, app App, hostname string) error {
	analysis, err := m.apps.ListCustomHostnameAnalysis(ctx, app.ResourceGroup, app.Name, hostname)
	if err != nil {
		return err
	}
	passed := analysis.CustomDomainVerificationTest == verificationPassed && !analysis.HasConflictOnManagedEnvironment
	if passed {
		return nil
	}

	message := "please configure the DNS records before adding the hostname"
	var info struct {
		Message string `json:"message"`
	}
	switch {
	case len(analysis.CustomDomainVerificationFailureInfo) > 0 &&
		json.Unmarshal(analysis.CustomDomainVerificationFailureInfo, &info) == nil && info.Message != "":
		message = info.Message
	case analysis.HasConflictOnManagedEnvironment && analysis.ConflictingContainerAppResourceID != "":
		message = "custom domain " + hostname + " conflicts on the same environment with " + analysis.ConflictingContainerAppResourceID
	}
	return apperrors.Validation("%s", message)
}

// ListHostnames returns the custom domains of app.
func (m *Manager) ListHostnames(ctx context.Context, app App) ([]envelope.CustomDomain, error) {
	return m.customDomains(ctx, app)
}

// AddHostname adds hostname to app without a certificate.
func (m *Manager) AddHostname(ctx context.Context, app App, hostname string) ([]envelope.CustomDomain, error) {
	hostname = strings.ToLower(hostname)
	if err := validate.Hostname(hostname); err != nil {
		return nil, err
	}
	domains, err := m.customDomains(ctx, app)
	if err != nil {
		return nil, err
	}
	if indexDomain(domains, hostname) >= 0 {
		return nil, apperrors.AlreadyExists("'%s' already exists in container app '%s'", hostname, app.Name)
	}
	domains = append(domains, envelope.CustomDomain{Name: hostname, BindingType: envelope.BindingDisabled})
	return m.patchDomains(ctx, app, domains)
}

// DeleteHostname removes hostname from app.
func (m *Manager) DeleteHostname(ctx context.Context, app App, hostname string) ([]envelope.CustomDomain, error) {
	domains, err := m.customDomains(ctx, app)
	if err != nil {
		return nil, err
	}
	i := indexDomain(domains, strings.ToLower(hostname))
	if i < 0 {
		return nil, apperrors.NotFound("the hostname '%s' in Container app '%s' was not found", hostname, app.Name)
	}
	domains = append(domains[:i:i], domains[i+1:]...)
	out, err := m.patchDomains(ctx, app, domains)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Custom domain deleted", zap.String("hostname", hostname), zap.String("app", app.Name))
	return out, nil
}

// BindOptions select the certificate bound to a hostname.
type BindOptions struct {
	// Certificate is a certificate name or id.
	Certificate string
	Thumbprint  string
	// Environment is required unless Certificate is an id.
	Environment      string
	Location         string
	ValidationMethod string
}

// BindHostname binds hostname on app to a certificate. Without certificate
// or thumbprint, an existing usable managed certificate for the hostname
// is reused, otherwise a new one is requested.
func (m *Manager) BindHostname(ctx context.Context, app App, hostname string, opts BindOptions) ([]envelope.CustomDomain, error) {
	if opts.Environment == "" && opts.Certificate == "" {
		return nil, apperrors.RequiredArgument("please specify at least one of parameters: --certificate and --environment")
	}
	if opts.Certificate != "" && !envelope.IsResourceID(opts.Certificate) && opts.Environment == "" {
		return nil, apperrors.RequiredArgument("please specify the parameter: --environment")
	}

	hostname = strings.ToLower(hostname)
	if err := validate.Hostname(hostname); err != nil {
		return nil, err
	}
	if err := m.CheckDNS(ctx, app, hostname); err != nil {
		return nil, err
	}

	var env Environment
	if opts.Environment != "" {
		var err error
		if env, err = EnvironmentFrom(app.ResourceGroup, opts.Environment); err != nil {
			return nil, err
		}
	}

	certID, err := m.resolveCertificate(ctx, env, hostname, opts)
	if err != nil {
		return nil, err
	}

	domains, err := m.customDomains(ctx, App{
		ResourceGroup: app.ResourceGroup,
		Name:          app.Name,
		Environment:   opts.Environment,
		Location:      opts.Location,
	})
	if err != nil {
		return nil, err
	}
	domains = replaceDomain(domains, envelope.CustomDomain{
		Name:          hostname,
		BindingType:   envelope.BindingSniEnabled,
		CertificateID: certID,
	})
	return m.patchDomains(ctx, app, domains)
}

func (m *Manager) resolveCertificate(ctx context.Context, env Environment, hostname string, opts BindOptions) (string, error) {
	switch {
	case opts.Certificate != "" && envelope.IsResourceID(opts.Certificate):
		return opts.Certificate, nil

	case opts.Certificate != "" || opts.Thumbprint != "":
		list, err := m.List(ctx, env, ListOptions{
			Location:    opts.Location,
			Certificate: opts.Certificate,
			Thumbprint:  opts.Thumbprint,
		})
		if err != nil {
			return "", err
		}
		all := list.All()
		if len(all) == 0 {
			what := "'" + opts.Certificate + "'"
			switch {
			case opts.Certificate == "":
				what = "with thumbprint '" + opts.Thumbprint + "'"
			case opts.Thumbprint != "":
				what += " with thumbprint '" + opts.Thumbprint + "'"
			}
			return "", apperrors.NotFound("the certificate %s does not exist in Container app environment '%s'", what, env.Name)
		}
		switch c := all[0].(type) {
		case *envelope.ManagedCertificate:
			return c.ID, nil
		case *envelope.Certificate:
			return c.ID, nil
		}
	}

	managed, err := m.managed(ctx, env, "", "")
	if err != nil {
		return "", err
	}
	for _, c := range managed {
		if strings.EqualFold(c.SubjectName(), hostname) && c.IsUsable() {
			m.logger.Info("Binding existing managed certificate",
				zap.String("certificate", c.Name),
				zap.String("hostname", hostname),
			)
			return c.ID, nil
		}
	}

	method, err := ValidationMethod(opts.ValidationMethod)
	if err != nil {
		return "", err
	}
	name, err := m.generateManagedName(ctx, env, hostname)
	if err != nil {
		return "", err
	}
	cert, err := m.issueManaged(ctx, env, name, hostname, method, opts.Location, false)
	if err != nil {
		return "", err
	}
	return cert.ID, nil
}

// UploadAndBind uploads a certificate file to the environment of app and
// binds hostname to it.
func (m *Manager) UploadAndBind(ctx context.Context, app App, hostname string, opts UploadOptions) ([]envelope.CustomDomain, error) {
	hostname = strings.ToLower(hostname)
	if err := validate.Hostname(hostname); err != nil {
		return nil, err
	}
	if err := m.CheckDNS(ctx, app, hostname); err != nil {
		return nil, err
	}
	domains, err := m.customDomains(ctx, app)
	if err != nil {
		return nil, err
	}
	env, err := EnvironmentFrom(app.ResourceGroup, app.Environment)
	if err != nil {
		return nil, err
	}
	cert, err := m.Upload(ctx, env, opts)
	if err != nil {
		return nil, err
	}
	domains = replaceDomain(domains, envelope.CustomDomain{
		Name:          hostname,
		BindingType:   envelope.BindingSniEnabled,
		CertificateID: cert.ID,
	})
	m.logger.Info("Binding hostname", zap.String("hostname", hostname), zap.String("app", app.Name))
	return m.patchDomains(ctx, app, domains)
}

// customDomains reads the custom domains of app, checking location and
// environment when app names them.
func (m *Manager) customDomains(ctx context.Context, app App) ([]envelope.CustomDomain, error) {
	current, found, err := m.apps.Show(ctx, app.ResourceGroup, app.Name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NotFound("the containerapp '%s' does not exist", app.Name)
	}
	if app.Location != "" && validate.NormalizeLocation(current.Location) != validate.NormalizeLocation(app.Location) {
		return nil, apperrors.NotFound("container app %s is not in location %s", app.Name, app.Location)
	}
	if app.Environment != "" && current.Properties != nil &&
		!strings.EqualFold(lastSegment(app.Environment), lastSegment(current.Properties.EnvironmentID)) {
		return nil, apperrors.NotFound("container app %s is not under environment %s", app.Name, app.Environment)
	}
	ingress := current.Ingress()
	if ingress == nil {
		return []envelope.CustomDomain{}, nil
	}
	return append([]envelope.CustomDomain{}, ingress.CustomDomains...), nil
}

func (m *Manager) patchDomains(ctx context.Context, app App, domains []envelope.CustomDomain) ([]envelope.CustomDomain, error) {
	if domains == nil {
		domains = []envelope.CustomDomain{}
	}
	patch := &envelope.ContainerApp{Properties: &envelope.ContainerAppProperties{
		Configuration: &envelope.Configuration{
			Ingress: &envelope.Ingress{CustomDomains: domains},
		},
	}}
	updated, err := m.apps.Update(ctx, app.ResourceGroup, app.Name, patch, false)
	if err != nil {
		return nil, err
	}
	if ingress := updated.Ingress(); ingress != nil {
		return ingress.CustomDomains, nil
	}
	return []envelope.CustomDomain{}, nil
}

func indexDomain(domains []envelope.CustomDomain, hostname string) int {
	for i, d := range domains {
		if strings.EqualFold(d.Name, hostname) {
			return i
		}
	}
	return -1
}

// replaceDomain drops any entry for d.Name and appends d.
func replaceDomain(domains []envelope.CustomDomain, d envelope.CustomDomain) []envelope.CustomDomain {
	out := make([]envelope.CustomDomain, 0, len(domains)+1)
	for _, existing := range domains {
		if !strings.EqualFold(existing.Name, d.Name) {
			out = append(out, existing)
		}
	}
	return append(out, d)
}

func lastSegment(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}
