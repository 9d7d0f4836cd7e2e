// Package clients provides typed REST clients for the Microsoft.App
// resource provider. Every verb maps to one ARM request and, unless
// noWait is set, drives the matching long-running-operation protocol.
package clients

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/arm"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/lro"
)

// Path segments.
const (
	segmentSubscriptions  = "subscriptions"
	segmentResourceGroups = "resourceGroups"
	segmentProviders      = "providers"
	segmentLocations      = "locations"
)

// Settings address one subscription on one ARM endpoint.
type Settings struct {
	Endpoint       string
	SubscriptionID string
	APIVersion     string
}

// Clients bundles the resource clients sharing one transport and poller.
type Clients struct {
	Apps             *ContainerApps
	Environments     *ManagedEnvironments
	Jobs             *Jobs
	WorkloadProfiles *WorkloadProfiles
	SourceControls   *SourceControls
	DaprComponents   *DaprComponents
	Storages         *Storages
	AuthConfigs      *AuthConfigs
	Subscription     *Subscription
	Registries       *Registries
}

// New creates all resource clients.
func New(doer arm.Doer, poller *lro.Poller, settings Settings, logger *zap.Logger) *Clients {
	if settings.APIVersion == "" {
		settings.APIVersion = arm.DefaultAPIVersion
	}
	if settings.Endpoint == "" {
		settings.Endpoint = arm.DefaultEndpoint
	}
	b := &base{
		doer:           doer,
		poller:         poller,
		logger:         logger,
		endpoint:       strings.TrimRight(settings.Endpoint, "/"),
		subscriptionID: settings.SubscriptionID,
		apiVersion:     settings.APIVersion,
	}
	return &Clients{
		Apps:             newContainerApps(b),
		Environments:     newManagedEnvironments(b),
		Jobs:             newJobs(b),
		WorkloadProfiles: &WorkloadProfiles{base: b},
		SourceControls:   &SourceControls{r: newResource[envelope.SourceControl](b, collectionContainerApps, "sourcecontrols")},
		DaprComponents:   &DaprComponents{r: newResource[envelope.DaprComponent](b, collectionManagedEnvironments, "daprComponents")},
		Storages:         &Storages{r: newResource[envelope.ManagedEnvironmentStorage](b, collectionManagedEnvironments, "storages")},
		AuthConfigs:      &AuthConfigs{r: newResource[envelope.AuthConfig](b, collectionContainerApps, "authConfigs")},
		Subscription:     &Subscription{base: b},
		Registries:       &Registries{base: b},
	}
}

// base carries the shared transport state.
type base struct {
	doer           arm.Doer
	poller         *lro.Poller
	logger         *zap.Logger
	endpoint       string
	subscriptionID string
	apiVersion     string
}

// SubscriptionID returns the subscription the clients address.
func (b *base) SubscriptionID() string {
	return b.subscriptionID
}

func (b *base) url(path string, extra ...string) string {
	return arm.ResourceURL(b.endpoint, path, b.apiVersion, extra...)
}

// rgPath builds a Microsoft.App path inside a resource group.
func (b *base) rgPath(rg string, segments ...string) string {
	return "/" + segmentSubscriptions + "/" + b.subscriptionID + "/" + segmentResourceGroups + "/" + url.PathEscape(rg) +
		"/" + segmentProviders + "/" + envelope.NamespaceApp + "/" + strings.Join(segments, "/")
}

// subPath builds a subscription-scoped provider path.
func (b *base) subPath(namespace string, segments ...string) string {
	return "/" + segmentSubscriptions + "/" + b.subscriptionID + "/" + segmentProviders + "/" + namespace + "/" + strings.Join(segments, "/")
}

// put issues a PUT and follows the async-operation protocol on 201.
func (b *base) put(ctx context.Context, path string, body any, noWait bool) (*arm.Response, error) {
	return b.putURL(ctx, b.url(path), body, noWait)
}

func (b *base) putURL(ctx context.Context, u string, body any, noWait bool) (*arm.Response, error) {
	resp, err := b.doer.Do(ctx, http.MethodPut, u, body)
	if err != nil {
		return nil, err
	}
	if noWait || resp.StatusCode != http.StatusCreated {
		return resp, nil
	}
	statusURL, err := lro.AsyncOperationURL(resp)
	if err != nil {
		return nil, err
	}
	return b.poller.PollStatus(ctx, statusURL, u)
}

// patch issues a PATCH and follows the location protocol on 202.
func (b *base) patch(ctx context.Context, path string, body any, noWait bool) (*arm.Response, error) {
	resp, err := b.doer.Do(ctx, http.MethodPatch, b.url(path), body)
	if err != nil {
		return nil, err
	}
	if noWait || resp.StatusCode != http.StatusAccepted {
		return resp, nil
	}
	locationURL, err := lro.LocationURL(resp)
	if err != nil {
		return nil, err
	}
	final, err := b.poller.PollResult(ctx, locationURL)
	if err != nil {
		return nil, err
	}
	if final == nil || len(final.Body) == 0 {
		return nil, apperrors.NotFound("resource %s was not found after update", path)
	}
	return final, nil
}

// remove issues a DELETE and follows the location protocol on 202.
func (b *base) remove(ctx context.Context, path string, noWait bool) error {
	resp, err := b.doer.Do(ctx, http.MethodDelete, b.url(path), nil)
	if err != nil {
		return err
	}
	if noWait || resp.StatusCode != http.StatusAccepted {
		return nil
	}
	locationURL, err := lro.LocationURL(resp)
	if err != nil {
		return err
	}
	_, err = b.poller.PollResult(ctx, locationURL)
	return err
}

// get issues a GET; a 404 returns found=false without error.
func (b *base) get(ctx context.Context, path string, extra ...string) (*arm.Response, bool, error) {
	resp, err := b.doer.Do(ctx, http.MethodGet, b.url(path, extra...), nil)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return resp, true, nil
}

func (b *base) post(ctx context.Context, path string, body any, extra ...string) (*arm.Response, error) {
	return b.doer.Do(ctx, http.MethodPost, b.url(path, extra...), body)
}

// decode unmarshals a response into a new T. An empty body yields nil.
func decode[T any](resp *arm.Response) (*T, error) {
	if resp == nil || len(resp.Body) == 0 {
		return nil, nil
	}
	v := new(T)
	if err := resp.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

// list follows nextLink from firstURL and accumulates every page.
func list[T any](ctx context.Context, b *base, firstURL string) ([]T, error) {
	out := []T{}
	for next := firstURL; next != ""; {
		resp, err := b.doer.Do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var page envelope.List[T]
		if err := resp.Decode(&page); err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		next = page.NextLink
	}
	return out, nil
}

// resource is the generic dispatcher for one Microsoft.App collection.
// collection holds the type segments from the top-level type down, for
// example {"managedEnvironments", "certificates"}.
type resource[T any] struct {
	*base
	collection []string
}

func newResource[T any](b *base, collection ...string) resource[T] {
	return resource[T]{base: b, collection: collection}
}

// itemPath interleaves collection segments with names. Passing one name
// fewer than segments yields the collection path.
func (r resource[T]) itemPath(rg string, names ...string) string {
	segments := make([]string, 0, 2*len(r.collection))
	for i, c := range r.collection {
		segments = append(segments, c)
		if i < len(names) {
			segments = append(segments, url.PathEscape(names[i]))
		}
	}
	return r.rgPath(rg, segments...)
}

func (r resource[T]) createOrUpdate(ctx context.Context, rg string, body any, noWait bool, names ...string) (*T, error) {
	resp, err := r.put(ctx, r.itemPath(rg, names...), body, noWait)
	if err != nil {
		return nil, err
	}
	return decode[T](resp)
}

// update PATCHes the resource. Unless noWait is set, a missing result is
// reported as NotFound so callers always get a resource back.
func (r resource[T]) update(ctx context.Context, rg string, body any, noWait bool, names ...string) (*T, error) {
	path := r.itemPath(rg, names...)
	resp, err := r.patch(ctx, path, body, noWait)
	if err != nil {
		return nil, err
	}
	v, err := decode[T](resp)
	if err == nil && v == nil && !noWait {
		return nil, apperrors.NotFound("resource %s was not found after update", path)
	}
	return v, err
}

func (r resource[T]) delete(ctx context.Context, rg string, noWait bool, names ...string) error {
	return r.remove(ctx, r.itemPath(rg, names...), noWait)
}

func (r resource[T]) show(ctx context.Context, rg string, names ...string) (*T, bool, error) {
	resp, found, err := r.get(ctx, r.itemPath(rg, names...))
	if err != nil || !found {
		return nil, found, err
	}
	v, err := decode[T](resp)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (r resource[T]) list(ctx context.Context, rg string, parents ...string) ([]T, error) {
	return list[T](ctx, r.base, r.url(r.itemPath(rg, parents...)))
}

// listBySubscription lists a top-level collection across the subscription.
func (r resource[T]) listBySubscription(ctx context.Context) ([]T, error) {
	return list[T](ctx, r.base, r.url(r.subPath(envelope.NamespaceApp, r.collection[0])))
}
