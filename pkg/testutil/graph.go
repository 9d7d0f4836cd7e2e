package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/flavioaiello/containerapps/pkg/graph"
)

// Resource types answered by MockGraphClient.
const (
	GraphTypeRegistry    = "Microsoft.ContainerRegistry/registries"
	GraphTypeEnvironment = "Microsoft.App/managedEnvironments"
)

// MockGraphClient is an in-memory Resource Graph discovery. It answers the
// registry and environment lookups of graph.Client from added resources.
// Thread-safe.
type MockGraphClient struct {
	mu sync.Mutex

	resources   []graph.Resource
	lookups     []string
	queryCount  int
	shouldFail  bool
	failMessage string
}

// NewMockGraphClient creates an empty mock.
func NewMockGraphClient() *MockGraphClient {
	return &MockGraphClient{failMessage: "mock failure"}
}

// AddResource adds a resource to the index.
func (m *MockGraphClient) AddResource(resource graph.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource)
}

// AddRegistry indexes a registry with its login server.
func (m *MockGraphClient) AddRegistry(name, resourceGroup string) {
	m.AddResource(graph.Resource{
		Name:          name,
		Type:          GraphTypeRegistry,
		ResourceGroup: resourceGroup,
		Properties:    map[string]any{"loginServer": strings.ToLower(name) + ".azurecr.io"},
	})
}

// AddEnvironment indexes a managed environment writing to the Log
// Analytics workspace customerID.
func (m *MockGraphClient) AddEnvironment(id, name, location, customerID string) {
	m.AddResource(graph.Resource{
		ID:       id,
		Name:     name,
		Type:     GraphTypeEnvironment,
		Location: location,
		Properties: map[string]any{
			"appLogsConfiguration": map[string]any{
				"destination":               "log-analytics",
				"logAnalyticsConfiguration": map[string]any{"customerId": customerID},
			},
		},
	})
}

// SetShouldFail makes every following query fail with message.
func (m *MockGraphClient) SetShouldFail(shouldFail bool, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
	if message != "" {
		m.failMessage = message
	}
}

// QueryCount returns the number of queries executed.
func (m *MockGraphClient) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCount
}

// Lookups returns the registry names looked up, in order.
func (m *MockGraphClient) Lookups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lookups))
	copy(out, m.lookups)
	return out
}

func (m *MockGraphClient) begin(ctx context.Context) error {
	m.queryCount++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.shouldFail {
		return errors.New(m.failMessage)
	}
	return nil
}

// FindRegistry returns the registry named name or nil.
func (m *MockGraphClient) FindRegistry(ctx context.Context, name string) (*graph.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups = append(m.lookups, name)
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	for _, r := range m.resources {
		if strings.EqualFold(r.Type, GraphTypeRegistry) && strings.EqualFold(r.Name, name) {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

// FindEnvironmentsByLogAnalytics returns the environments writing to
// customerID, optionally restricted to location.
func (m *MockGraphClient) FindEnvironmentsByLogAnalytics(ctx context.Context, customerID, location string) ([]graph.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	location = normalizeLocation(location)
	var out []graph.Resource
	for _, r := range m.resources {
		if !strings.EqualFold(r.Type, GraphTypeEnvironment) || !strings.EqualFold(workspaceOf(r), customerID) {
			continue
		}
		if location != "" && normalizeLocation(r.Location) != location {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func workspaceOf(r graph.Resource) string {
	logs, _ := r.Properties["appLogsConfiguration"].(map[string]any)
	la, _ := logs["logAnalyticsConfiguration"].(map[string]any)
	id, _ := la["customerId"].(string)
	return id
}

func normalizeLocation(l string) string {
	return strings.ToLower(strings.ReplaceAll(l, " ", ""))
}
