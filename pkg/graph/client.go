// Package graph discovers resources through Azure Resource Graph.
//
// Resource Graph answers subscription-wide lookups that ARM only serves
// per resource group:
//  1. Container registries by name, to find their resource group
//  2. Managed environments by Log Analytics customer id and location
//  3. Single resources by id
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azarm "github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
	"go.uber.org/zap"
)

// Constants for Resource Graph queries.
const (
	// MaxQueryResultRows is the maximum rows per query.
	MaxQueryResultRows = 1000
	// QueryTimeout is the timeout for Resource Graph queries.
	QueryTimeout = 30 * time.Second

	typeRegistry            = "microsoft.containerregistry/registries"
	typeManagedEnvironments = "microsoft.app/managedenvironments"
	maxResourceIDLength     = 2048
)

// safeKQLPattern validates strings safe for KQL interpolation.
// SECURITY: Only alphanumeric, hyphens, and underscores allowed.
var safeKQLPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Errors.
var (
	ErrQueryFailed       = errors.New("resource graph query failed")
	ErrQueryTimeout      = errors.New("resource graph query timed out")
	ErrInvalidResponse   = errors.New("invalid response from resource graph")
	ErrNoSubscriptions   = errors.New("no subscriptions to query")
	ErrInvalidQueryParam = errors.New("invalid query parameter - contains unsafe characters")
)

// Resource represents a resource from Resource Graph.
type Resource struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Location       string            `json:"location"`
	ResourceGroup  string            `json:"resourceGroup"`
	SubscriptionID string            `json:"subscriptionId"`
	Tags           map[string]string `json:"tags"`
	Properties     map[string]any    `json:"properties"`
}

// LoginServer returns properties.loginServer of a registry or "".
func (r *Resource) LoginServer() string {
	s, _ := r.Properties["loginServer"].(string)
	return s
}

// Querier runs Resource Graph queries. *armresourcegraph.Client
// implements it.
type Querier interface {
	Resources(ctx context.Context, query armresourcegraph.QueryRequest, options *armresourcegraph.ClientResourcesOptions) (armresourcegraph.ClientResourcesResponse, error)
}

// Client is the Resource Graph client.
type Client struct {
	querier        Querier
	subscriptionID string
	logger         *zap.Logger
}

// NewClient creates a new Resource Graph client.
func NewClient(subscriptionID string, cred azcore.TokenCredential, clientOpts *azarm.ClientOptions, logger *zap.Logger) (*Client, error) {
	client, err := armresourcegraph.NewClient(cred, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource graph client: %w", err)
	}
	return NewClientWithQuerier(client, subscriptionID, logger), nil
}

// NewClientWithQuerier creates a client around an existing querier.
func NewClientWithQuerier(q Querier, subscriptionID string, logger *zap.Logger) *Client {
	return &Client{
		querier:        q,
		subscriptionID: subscriptionID,
		logger:         logger,
	}
}

// validateKQLParam validates a string is safe for KQL query interpolation.
// SECURITY: Prevents KQL injection attacks.
func validateKQLParam(param, name string) error {
	if !safeKQLPattern.MatchString(param) {
		return fmt.Errorf("%w: %s contains unsafe characters", ErrInvalidQueryParam, name)
	}
	return nil
}

// FindRegistry returns the container registry named name, or nil.
func (c *Client) FindRegistry(ctx context.Context, name string) (*Resource, error) {
	if err := validateKQLParam(name, "registry"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		Resources
		| where type =~ '%s'
		| where name =~ '%s'
		| project id, name, type, location, resourceGroup, subscriptionId, tags, properties
		| take 1
	`, typeRegistry, name)

	return first(c.executeQuery(ctx, query))
}

// FindEnvironmentsByLogAnalytics returns the managed environments writing
// to the workspace customerID, optionally restricted to location.
func (c *Client) FindEnvironmentsByLogAnalytics(ctx context.Context, customerID, location string) ([]Resource, error) {
	if err := validateKQLParam(customerID, "customerId"); err != nil {
		return nil, err
	}
	locationFilter := ""
	if location != "" {
		normalized := strings.ToLower(strings.ReplaceAll(location, " ", ""))
		if err := validateKQLParam(normalized, "location"); err != nil {
			return nil, err
		}
		locationFilter = fmt.Sprintf("| where location =~ '%s'", normalized)
	}

	query := fmt.Sprintf(`
		Resources
		| where type =~ '%s'
		| where properties.appLogsConfiguration.logAnalyticsConfiguration.customerId =~ '%s'
		%s
		| project id, name, type, location, resourceGroup, subscriptionId, tags, properties
		| order by id asc
		| take %d
	`, typeManagedEnvironments, customerID, locationFilter, MaxQueryResultRows)

	return c.executeQuery(ctx, query)
}

// GetResourceByID queries a single resource by ID.
func (c *Client) GetResourceByID(ctx context.Context, resourceID string) (*Resource, error) {
	// SECURITY: Resource IDs have a specific format - validate length and quoting.
	if resourceID == "" || len(resourceID) > maxResourceIDLength || strings.ContainsAny(resourceID, `'"|`) {
		return nil, fmt.Errorf("%w: resourceID", ErrInvalidQueryParam)
	}

	query := fmt.Sprintf(`
		Resources
		| where id =~ '%s'
		| project id, name, type, location, resourceGroup, subscriptionId, tags, properties
	`, resourceID)

	return first(c.executeQuery(ctx, query))
}

func first(resources []Resource, err error) (*Resource, error) {
	if err != nil || len(resources) == 0 {
		return nil, err
	}
	return &resources[0], nil
}

// executeQuery executes a Resource Graph query.
func (c *Client) executeQuery(ctx context.Context, query string) ([]Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	if c.subscriptionID == "" {
		return nil, ErrNoSubscriptions
	}

	c.logger.Debug("Executing Resource Graph query",
		zap.String("query", strings.Join(strings.Fields(query), " ")),
	)

	request := armresourcegraph.QueryRequest{
		Query:         &query,
		Subscriptions: []*string{to.Ptr(c.subscriptionID)},
		Options: &armresourcegraph.QueryRequestOptions{
			ResultFormat: to.Ptr(armresourcegraph.ResultFormatObjectArray),
		},
	}

	resp, err := c.querier.Resources(ctx, request, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrQueryTimeout
		}
		c.logger.Error("Resource Graph query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return c.parseResponse(resp)
}

// parseResponse parses the Resource Graph response.
func (c *Client) parseResponse(resp armresourcegraph.ClientResourcesResponse) ([]Resource, error) {
	if resp.Data == nil {
		return nil, nil
	}

	if resp.TotalRecords != nil && *resp.TotalRecords > MaxQueryResultRows {
		c.logger.Warn("Query returned more results than limit",
			zap.Int64("total", *resp.TotalRecords),
			zap.Int("limit", MaxQueryResultRows),
		)
	}

	data, ok := resp.Data.([]any)
	if !ok {
		return nil, ErrInvalidResponse
	}

	resources := make([]Resource, 0, len(data))
	for _, item := range data {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}

		// Convert to JSON and back for clean parsing.
		jsonBytes, err := json.Marshal(itemMap)
		if err != nil {
			c.logger.Warn("Failed to marshal resource", zap.Error(err))
			continue
		}

		var resource Resource
		if err := json.Unmarshal(jsonBytes, &resource); err != nil {
			c.logger.Warn("Failed to unmarshal resource", zap.Error(err))
			continue
		}

		resources = append(resources, resource)
	}

	return resources, nil
}
