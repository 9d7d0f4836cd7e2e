package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/arm"
)

// Path segment for provider in resource IDs.
const pathProvidersSegment = "providers"

// FakeResponse is one scripted response.
type FakeResponse struct {
	Status int
	Header map[string]string
	// Body is written as JSON; a string or []byte is written verbatim.
	Body any
}

// RecordedRequest is one request received by the fake.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// JSON decodes the request body as an object.
func (r RecordedRequest) JSON() map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(r.Body, &out)
	return out
}

// HandlerFunc computes a response for a request.
type HandlerFunc func(req RecordedRequest) FakeResponse

type route struct {
	responses []FakeResponse
	next      int
	fn        HandlerFunc
}

// FakeARM is an in-memory Resource Manager served over TLS.
//
// Requests first match scripted routes (method + path, case-insensitive).
// Unmatched requests fall through to a resource store with PUT/PATCH/GET/
// DELETE semantics, collection listing and listSecrets. Secret values are
// never returned on GET, as with the real service.
// Thread-safe.
type FakeARM struct {
	mu       sync.Mutex
	server   *httptest.Server
	routes   map[string]*route
	store    map[string]map[string]any
	requests []RecordedRequest
	cred     *FakeCredential
}

// NewFakeARM starts a fake server that is closed with the test.
func NewFakeARM(t testing.TB) *FakeARM {
	t.Helper()
	f := &FakeARM{
		routes: make(map[string]*route),
		store:  make(map[string]map[string]any),
		cred:   NewFakeCredential(),
	}
	f.server = httptest.NewTLSServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of the fake.
func (f *FakeARM) URL() string {
	return f.server.URL
}

// Credential returns the credential behind Client.
func (f *FakeARM) Credential() *FakeCredential {
	return f.cred
}

// Client returns an arm.Client wired to the fake and its credential.
func (f *FakeARM) Client(t testing.TB) *arm.Client {
	t.Helper()
	c, err := arm.NewClient(f.cred, f.server.URL, zap.NewNop(), &arm.ClientOptions{
		Transport: f.server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to create arm client: %v", err)
	}
	return c
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + strings.ToLower(path)
}

// Handle scripts responses for method and path. Responses are served in
// order; the last one repeats.
func (f *FakeARM) Handle(method, path string, responses ...FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[routeKey(method, path)] = &route{responses: responses}
}

// HandleFunc registers a dynamic handler for method and path.
func (f *FakeARM) HandleFunc(method, path string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[routeKey(method, path)] = &route{fn: fn}
}

// Seed stores a resource at path.
func (f *FakeARM) Seed(path string, resource map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[strings.ToLower(path)] = cloneMap(resource)
}

// Resource returns the stored resource at path, secret values included.
func (f *FakeARM) Resource(path string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.store[strings.ToLower(path)]
	if !ok {
		return nil, false
	}
	return cloneMap(r), true
}

// Requests returns all recorded requests in arrival order.
func (f *FakeARM) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// RequestsFor returns recorded requests matching method and path.
func (f *FakeARM) RequestsFor(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range f.Requests() {
		if strings.EqualFold(r.Method, method) && strings.EqualFold(r.Path, path) {
			out = append(out, r)
		}
	}
	return out
}

// LastRequest returns the most recent request matching method and path.
func (f *FakeARM) LastRequest(method, path string) (RecordedRequest, bool) {
	reqs := f.RequestsFor(method, path)
	if len(reqs) == 0 {
		return RecordedRequest{}, false
	}
	return reqs[len(reqs)-1], true
}

func (f *FakeARM) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	rt, scripted := f.routes[routeKey(r.Method, r.URL.Path)]
	var resp FakeResponse
	switch {
	case scripted && rt.fn != nil:
		fn := rt.fn
		f.mu.Unlock()
		resp = fn(rec)
		f.mu.Lock()
	case scripted && len(rt.responses) > 0:
		idx := rt.next
		if idx >= len(rt.responses) {
			idx = len(rt.responses) - 1
		} else {
			rt.next++
		}
		resp = rt.responses[idx]
	default:
		resp = f.storeResponseLocked(rec)
	}
	f.mu.Unlock()

	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp FakeResponse) {
	for k, v := range resp.Header {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	var payload []byte
	switch b := resp.Body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	case []byte:
		payload = b
	default:
		payload, _ = json.Marshal(b)
	}
	if len(payload) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func notFound(path string) FakeResponse {
	return FakeResponse{
		Status: http.StatusNotFound,
		Body: map[string]any{"error": map[string]any{
			"code":    "ResourceNotFound",
			"message": "The resource " + path + " was not found.",
		}},
	}
}

func (f *FakeARM) storeResponseLocked(rec RecordedRequest) FakeResponse {
	key := strings.ToLower(rec.Path)
	switch rec.Method {
	case http.MethodGet:
		if r, ok := f.store[key]; ok {
			return FakeResponse{Status: http.StatusOK, Body: redactSecrets(r)}
		}
		if isCollectionPath(rec.Path) {
			return FakeResponse{Status: http.StatusOK, Body: map[string]any{"value": f.childrenLocked(key)}}
		}
		return notFound(rec.Path)

	case http.MethodPut:
		r := rec.JSON()
		segments := splitPath(rec.Path)
		r["id"] = rec.Path
		r["name"] = segments[len(segments)-1]
		props, _ := r["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
			r["properties"] = props
		}
		if _, ok := props["provisioningState"]; !ok {
			props["provisioningState"] = "Succeeded"
		}
		f.store[key] = r
		return FakeResponse{Status: http.StatusOK, Body: redactSecrets(r)}

	case http.MethodPatch:
		existing, ok := f.store[key]
		if !ok {
			return notFound(rec.Path)
		}
		mergeInto(existing, rec.JSON())
		return FakeResponse{Status: http.StatusOK, Body: redactSecrets(existing)}

	case http.MethodDelete:
		if _, ok := f.store[key]; !ok {
			return notFound(rec.Path)
		}
		delete(f.store, key)
		return FakeResponse{Status: http.StatusOK}

	case http.MethodPost:
		if strings.HasSuffix(key, "/listsecrets") {
			parent := strings.TrimSuffix(key, "/listsecrets")
			r, ok := f.store[parent]
			if !ok {
				return notFound(rec.Path)
			}
			return FakeResponse{Status: http.StatusOK, Body: map[string]any{"value": storedSecrets(r)}}
		}
	}
	return notFound(rec.Path)
}

func (f *FakeARM) childrenLocked(collection string) []any {
	keys := make([]string, 0)
	depth := len(splitPath(collection)) + 1
	for k := range f.store {
		if strings.HasPrefix(k, collection+"/") && len(splitPath(k)) == depth {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, redactSecrets(f.store[k]))
	}
	return out
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

// isCollectionPath reports whether an ARM path addresses a collection:
// after the provider namespace, type/name segments come in pairs.
func isCollectionPath(p string) bool {
	segments := splitPath(p)
	idx := -1
	for i, s := range segments {
		if strings.EqualFold(s, pathProvidersSegment) {
			idx = i
		}
	}
	if idx < 0 {
		return len(segments)%2 == 1
	}
	return (len(segments)-idx-2)%2 == 1
}

func storedSecrets(r map[string]any) []any {
	props, _ := r["properties"].(map[string]any)
	cfg, _ := props["configuration"].(map[string]any)
	secrets, _ := cfg["secrets"].([]any)
	if secrets == nil {
		return []any{}
	}
	return secrets
}

func redactSecrets(r map[string]any) map[string]any {
	out := cloneMap(r)
	for _, s := range storedSecrets(out) {
		if m, ok := s.(map[string]any); ok {
			delete(m, "value")
		}
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeInto(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

func cloneMap(m map[string]any) map[string]any {
	data, _ := json.Marshal(m)
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out
}
