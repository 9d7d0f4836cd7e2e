package reconciler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/merge"
	"github.com/flavioaiello/containerapps/pkg/traffic"
	"github.com/flavioaiello/containerapps/pkg/validate"
)

// Sticky session affinities.
const (
	AffinitySticky = "sticky"
	AffinityNone   = "none"
)

// ingressOf shows the app and returns it with its ingress. An app without
// ingress is a ValidationError.
func (a *Apps) ingressOf(ctx context.Context, rg, name string) (*envelope.ContainerApp, *envelope.Ingress, error) {
	app, err := a.Show(ctx, rg, name)
	if err != nil {
		return nil, nil, err
	}
	ing := app.Ingress()
	if ing == nil {
		return nil, nil, apperrors.Validation("%v: enable ingress on container app %s first", ErrNoIngress, name)
	}
	return app, ing, nil
}

// patchIngress sends ing as the only ingress change.
func (a *Apps) patchIngress(ctx context.Context, rg, name string, ing *envelope.Ingress) (*envelope.Ingress, error) {
	patch := &envelope.ContainerApp{}
	patch.EnsureConfiguration().Ingress = ing
	updated, err := a.Clients.Apps.Update(ctx, rg, name, patch, false)
	if err != nil {
		return nil, err
	}
	if got := updated.Ingress(); got != nil {
		return got, nil
	}
	return ing, nil
}

// EnableIngress enables or replaces ingress.
func (a *Apps) EnableIngress(ctx context.Context, rg, name string, flags validate.IngressFlags) (*envelope.Ingress, error) {
	if flags.Ingress == "" {
		return nil, apperrors.RequiredArgument("usage error: --type is required to enable ingress")
	}
	if flags.TargetPort == nil {
		return nil, apperrors.RequiredArgument("usage error: --target-port is required to enable ingress")
	}
	if err := flags.Check(false); err != nil {
		return nil, err
	}
	if _, err := a.Show(ctx, rg, name); err != nil {
		return nil, err
	}
	ing := ingressFromFlags(flags)
	if ing.Transport != envelope.TransportTCP {
		ing.ExposedPort = envelope.Null[int32]()
	}
	return a.patchIngress(ctx, rg, name, ing)
}

// DisableIngress removes ingress.
func (a *Apps) DisableIngress(ctx context.Context, rg, name string) error {
	if _, err := a.Show(ctx, rg, name); err != nil {
		return err
	}
	body := map[string]any{
		"properties": map[string]any{
			"configuration": map[string]any{"ingress": merge.Clear},
		},
	}
	if _, err := a.Clients.Apps.Update(ctx, rg, name, body, false); err != nil {
		return err
	}
	a.logger.Info("Ingress disabled", zap.String("app", name))
	return nil
}

// UpdateIngress changes the ingress fields set in flags.
func (a *Apps) UpdateIngress(ctx context.Context, rg, name string, flags validate.IngressFlags) (*envelope.Ingress, error) {
	if _, _, err := a.ingressOf(ctx, rg, name); err != nil {
		return nil, err
	}
	if err := flags.Check(true); err != nil {
		return nil, err
	}
	ing := ingressPatch(flags)
	if ing == nil {
		return nil, apperrors.RequiredArgument("usage error: no ingress setting to update")
	}
	return a.patchIngress(ctx, rg, name, ing)
}

// ShowIngress returns the ingress.
func (a *Apps) ShowIngress(ctx context.Context, rg, name string) (*envelope.Ingress, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	return ing, err
}

// SetTraffic sets revision and label weights and rebalances the rest.
func (a *Apps) SetTraffic(ctx context.Context, rg, name string, revisionWeights, labelWeights []string) ([]envelope.TrafficWeight, error) {
	if len(revisionWeights) == 0 && len(labelWeights) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --revision-weight or --label-weight is required")
	}
	if err := validate.TrafficSum(revisionWeights, labelWeights); err != nil {
		return nil, err
	}
	app, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if app.RevisionsMode() == envelope.RevisionModeSingle {
		return nil, apperrors.Validation("container app %s is configured for single revision; set the revision mode to multiple to split traffic", name)
	}

	revisions, err := traffic.ParseWeights(revisionWeights)
	if err != nil {
		return nil, err
	}
	labels, err := traffic.ParseWeights(labelWeights)
	if err != nil {
		return nil, err
	}
	for _, rev := range traffic.Keys(revisions) {
		if _, found, err := a.Clients.Apps.ShowRevision(ctx, rg, name, rev); err != nil {
			return nil, err
		} else if !found {
			return nil, apperrors.Validation("revision %s does not exist in container app %s", rev, name)
		}
	}
	weights, err := traffic.ResolveLabels(ing.Traffic, labels, revisions, a.logger)
	if err != nil {
		return nil, err
	}
	next, err := traffic.Apply(ing.Traffic, weights)
	if err != nil {
		return nil, err
	}

	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{Traffic: next})
	if err != nil {
		return nil, err
	}
	return updated.Traffic, nil
}

// ShowTraffic returns the traffic weights.
func (a *Apps) ShowTraffic(ctx context.Context, rg, name string) ([]envelope.TrafficWeight, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	return ing.Traffic, nil
}

// AddLabel assigns label to revision. A label in use elsewhere is moved
// when yes is set or the prompt agrees.
func (a *Apps) AddLabel(ctx context.Context, rg, name, revision, label string, yes bool) ([]envelope.TrafficWeight, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, err := traffic.AddLabel(ing.Traffic, revision, label, yes, traffic.Confirm(a.Confirm))
	if err != nil {
		return nil, err
	}
	return a.patchTraffic(ctx, rg, name, next)
}

// RemoveLabel removes label from the traffic list.
func (a *Apps) RemoveLabel(ctx context.Context, rg, name, label string) ([]envelope.TrafficWeight, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, err := traffic.RemoveLabel(ing.Traffic, label)
	if err != nil {
		return nil, err
	}
	return a.patchTraffic(ctx, rg, name, next)
}

// SwapLabels exchanges the revisions of two labels.
func (a *Apps) SwapLabels(ctx context.Context, rg, name, source, target string) ([]envelope.TrafficWeight, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	next, err := traffic.SwapLabels(ing.Traffic, source, target)
	if err != nil {
		return nil, err
	}
	return a.patchTraffic(ctx, rg, name, next)
}

func (a *Apps) patchTraffic(ctx context.Context, rg, name string, next []envelope.TrafficWeight) ([]envelope.TrafficWeight, error) {
	if next == nil {
		next = []envelope.TrafficWeight{}
	}
	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{Traffic: next})
	if err != nil {
		return nil, err
	}
	return updated.Traffic, nil
}

// AccessRestriction is one IP rule request.
type AccessRestriction struct {
	Name        string `validate:"required"`
	IPAddress   string `validate:"required"`
	Action      string `validate:"required"`
	Description string
}

// SetAccessRestriction upserts an IP rule by name. All rules of an app
// share one action.
func (a *Apps) SetAccessRestriction(ctx context.Context, rg, name string, r AccessRestriction) ([]envelope.IPSecurityRestrictionRule, error) {
	if err := validate.Struct(r); err != nil {
		return nil, err
	}
	cidr := r.IPAddress
	if !strings.Contains(cidr, "/") {
		cidr += "/32"
	}
	if err := validate.CIDR("--ip-address", cidr); err != nil {
		return nil, err
	}
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	others, _ := merge.RemoveIPRestriction(append([]envelope.IPSecurityRestrictionRule(nil), ing.IPSecurityRestrictions...), r.Name)
	if err := validate.UniformAction(others, r.Action); err != nil {
		return nil, err
	}
	action := envelope.ActionAllow
	if strings.EqualFold(r.Action, envelope.ActionDeny) {
		action = envelope.ActionDeny
	}
	rules := merge.SetIPRestriction(ing.IPSecurityRestrictions, envelope.IPSecurityRestrictionRule{
		Name:           r.Name,
		Description:    r.Description,
		IPAddressRange: r.IPAddress,
		Action:         action,
	})
	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{IPSecurityRestrictions: rules})
	if err != nil {
		return nil, err
	}
	return updated.IPSecurityRestrictions, nil
}

// RemoveAccessRestriction deletes the IP rule named rule.
func (a *Apps) RemoveAccessRestriction(ctx context.Context, rg, name, rule string) ([]envelope.IPSecurityRestrictionRule, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	rules, found := merge.RemoveIPRestriction(ing.IPSecurityRestrictions, rule)
	if !found {
		return nil, apperrors.NotFound("ip security restriction %s was not found", rule)
	}
	if rules == nil {
		rules = []envelope.IPSecurityRestrictionRule{}
	}
	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{IPSecurityRestrictions: rules})
	if err != nil {
		return nil, err
	}
	return updated.IPSecurityRestrictions, nil
}

// ShowAccessRestrictions returns the IP rules.
func (a *Apps) ShowAccessRestrictions(ctx context.Context, rg, name string) ([]envelope.IPSecurityRestrictionRule, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	return ing.IPSecurityRestrictions, nil
}

// CORSOptions are the CORS flags. Nil slices keep the current value.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	// MaxAge is the flag text; an empty string clears it.
	MaxAge           *string
	AllowCredentials *bool
}

func (o CORSOptions) apply(p *envelope.CorsPolicy) error {
	if o.AllowedOrigins != nil {
		p.AllowedOrigins = o.AllowedOrigins
	}
	if o.AllowedMethods != nil {
		p.AllowedMethods = o.AllowedMethods
	}
	if o.AllowedHeaders != nil {
		p.AllowedHeaders = o.AllowedHeaders
	}
	if o.ExposeHeaders != nil {
		p.ExposeHeaders = o.ExposeHeaders
	}
	if o.MaxAge != nil {
		age, err := validate.CORSMaxAge(*o.MaxAge)
		if err != nil {
			return err
		}
		p.MaxAge = age
	}
	if o.AllowCredentials != nil {
		p.AllowCredentials = o.AllowCredentials
	}
	return nil
}

// EnableCORS replaces the CORS policy.
func (a *Apps) EnableCORS(ctx context.Context, rg, name string, opts CORSOptions) (*envelope.CorsPolicy, error) {
	if len(opts.AllowedOrigins) == 0 {
		return nil, apperrors.RequiredArgument("usage error: --allowed-origins is required to enable CORS")
	}
	if _, _, err := a.ingressOf(ctx, rg, name); err != nil {
		return nil, err
	}
	var policy envelope.CorsPolicy
	if err := opts.apply(&policy); err != nil {
		return nil, err
	}
	return a.patchCORS(ctx, rg, name, envelope.Value(policy))
}

// DisableCORS removes the CORS policy.
func (a *Apps) DisableCORS(ctx context.Context, rg, name string) error {
	if _, _, err := a.ingressOf(ctx, rg, name); err != nil {
		return err
	}
	_, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{CorsPolicy: envelope.Null[envelope.CorsPolicy]()})
	return err
}

// UpdateCORS changes the fields of the CORS policy set in opts.
func (a *Apps) UpdateCORS(ctx context.Context, rg, name string, opts CORSOptions) (*envelope.CorsPolicy, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	policy, ok := ing.CorsPolicy.Get()
	if !ok {
		return nil, apperrors.Validation("CORS is not enabled on container app %s", name)
	}
	if err := opts.apply(&policy); err != nil {
		return nil, err
	}
	if len(policy.AllowedOrigins) == 0 {
		return nil, apperrors.Validation("usage error: --allowed-origins cannot be empty")
	}
	return a.patchCORS(ctx, rg, name, envelope.Value(policy))
}

// ShowCORS returns the CORS policy, or nil when disabled.
func (a *Apps) ShowCORS(ctx context.Context, rg, name string) (*envelope.CorsPolicy, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if policy, ok := ing.CorsPolicy.Get(); ok {
		return &policy, nil
	}
	return nil, nil
}

func (a *Apps) patchCORS(ctx context.Context, rg, name string, policy envelope.Nullable[envelope.CorsPolicy]) (*envelope.CorsPolicy, error) {
	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{CorsPolicy: policy})
	if err != nil {
		return nil, err
	}
	if got, ok := updated.CorsPolicy.Get(); ok {
		return &got, nil
	}
	got, _ := policy.Get()
	return &got, nil
}

// SetStickySessions sets session affinity. Sticky sessions need single
// revision mode.
func (a *Apps) SetStickySessions(ctx context.Context, rg, name, affinity string) (*envelope.StickySessions, error) {
	affinity = strings.ToLower(affinity)
	if affinity != AffinitySticky && affinity != AffinityNone {
		return nil, apperrors.Validation("invalid --affinity %q: must be sticky or none", affinity)
	}
	app, _, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if affinity == AffinitySticky && app.RevisionsMode() != envelope.RevisionModeSingle {
		return nil, apperrors.Validation("sticky sessions are only supported in single revision mode")
	}
	updated, err := a.patchIngress(ctx, rg, name, &envelope.Ingress{StickySessions: &envelope.StickySessions{Affinity: affinity}})
	if err != nil {
		return nil, err
	}
	return updated.StickySessions, nil
}

// ShowStickySessions returns the session affinity.
func (a *Apps) ShowStickySessions(ctx context.Context, rg, name string) (*envelope.StickySessions, error) {
	_, ing, err := a.ingressOf(ctx, rg, name)
	if err != nil {
		return nil, err
	}
	if ing.StickySessions == nil {
		return &envelope.StickySessions{Affinity: AffinityNone}, nil
	}
	return ing.StickySessions, nil
}
