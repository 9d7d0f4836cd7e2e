// Package arm sends single authenticated requests to Azure Resource Manager.
//
// The client wraps an azcore pipeline with a bearer token policy. Retries
// are disabled: transient failures surface to the caller and the LRO
// driver owns all waiting. Non-2xx responses are returned as classified
// *apperrors.Error values together with the response.
package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

// Transport constants.
const (
	DefaultEndpoint    = "https://management.azure.com"
	DefaultAPIVersion  = "2024-03-01"
	moduleName         = "containerapps"
	moduleVersion      = "v1.0.0"
	defaultScopeSuffix = "/.default"
)

// Doer sends one request and returns the response.
type Doer interface {
	Do(ctx context.Context, method, rawURL string, body any) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return apperrors.Internal("empty response body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apperrors.Internal("failed to decode response body: %v", err)
	}
	return nil
}

// Map decodes the body as a JSON object.
func (r *Response) Map() (map[string]any, error) {
	out := map[string]any{}
	if err := r.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Transport overrides the HTTP sender (tests).
	Transport policy.Transporter
	// ApplicationID is appended to the User-Agent.
	ApplicationID string
}

// Client sends authenticated requests through an azcore pipeline.
// Safe for concurrent use.
type Client struct {
	pipeline runtime.Pipeline
	endpoint string
	logger   *zap.Logger
}

// NewClient creates a client for the given ARM endpoint.
func NewClient(cred azcore.TokenCredential, endpoint string, logger *zap.Logger, opts *ClientOptions) (*Client, error) {
	if cred == nil {
		return nil, fmt.Errorf("%w: credential is required", apperrors.ErrInternal)
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid endpoint %q", apperrors.ErrInternal, endpoint)
	}
	if opts == nil {
		opts = &ClientOptions{}
	}

	tokenPolicy := runtime.NewBearerTokenPolicy(cred, []string{endpoint + defaultScopeSuffix}, &policy.BearerTokenOptions{
		InsecureAllowCredentialWithHTTP: parsed.Scheme == "http",
	})
	clientOpts := &policy.ClientOptions{
		Retry:     policy.RetryOptions{MaxRetries: -1},
		Telemetry: policy.TelemetryOptions{ApplicationID: opts.ApplicationID},
	}
	if opts.Transport != nil {
		clientOpts.Transport = opts.Transport
	}

	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{tokenPolicy},
	}, clientOpts)

	return &Client{
		pipeline: pl,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Endpoint returns the ARM endpoint without trailing slash.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Do sends one request. body is marshalled as JSON when non-nil.
// A non-2xx status returns both the response and a classified error.
func (c *Client) Do(ctx context.Context, method, rawURL string, body any) (*Response, error) {
	req, err := runtime.NewRequest(ctx, method, rawURL)
	if err != nil {
		return nil, apperrors.Internal("failed to build %s request: %v", method, err)
	}
	req.Raw().Header.Set("Accept", "application/json")
	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, apperrors.Internal("failed to encode request body: %v", err)
		}
	}

	c.logger.Debug("Sending request", zap.String("method", method), zap.String("url", rawURL))

	httpResp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, apperrors.Classify(err)
	}
	payload, err := runtime.Payload(httpResp)
	if err != nil {
		return nil, apperrors.Internal("failed to read response body: %v", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
	}
	c.logger.Debug("Received response", zap.String("method", method), zap.Int("status", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp, apperrors.FromResponse(resp.StatusCode, payload)
	}
	return resp, nil
}

// ResourceURL joins endpoint, path and api-version. extra holds additional
// key/value query pairs.
func ResourceURL(endpoint, path, apiVersion string, extra ...string) string {
	q := url.Values{}
	q.Set("api-version", apiVersion)
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	return strings.TrimRight(endpoint, "/") + path + "?" + q.Encode()
}
