package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

const appDocument = `
name: my-app
type: Microsoft.App/containerApps
location: westeurope
identity:
  type: UserAssigned
  userAssignedIdentities:
    /subscriptions/x/resourceGroups/rg/providers/Microsoft.ManagedIdentity/userAssignedIdentities/id1:
      principalId: abc
managedEnvironmentId: /subscriptions/x/resourceGroups/rg/providers/Microsoft.App/managedEnvironments/env
configuration:
  ingress:
    external: true
    targetPort: 80
template:
  containers:
    - name: app
      image: nginx
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppDocument(t *testing.T) {
	l := New(zap.NewNop())

	doc, err := l.Load(writeFile(t, appDocument), KindApp)
	require.NoError(t, err)

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "configuration")
	assert.Contains(t, props, "template")
	assert.Equal(t, "/subscriptions/x/resourceGroups/rg/providers/Microsoft.App/managedEnvironments/env", props["environmentId"])
	assert.NotContains(t, props, "managedEnvironmentId")
	assert.NotContains(t, doc, "configuration")

	identity := doc["identity"].(map[string]any)
	for _, v := range identity["userAssignedIdentities"].(map[string]any) {
		assert.Empty(t, v)
	}
}

func TestLoadJSONDocument(t *testing.T) {
	l := New(zap.NewNop())

	doc, err := l.Load(writeFile(t, `{"name": "job1", "properties": {"configuration": {"triggerType": "Manual"}}}`), KindJob)
	require.NoError(t, err)
	assert.Equal(t, "job1", doc["name"])
}

func TestLoadRawFromStdin(t *testing.T) {
	l := New(zap.NewNop()).WithStdin(strings.NewReader("componentType: state.redis\nversion: v1\n"))

	doc, err := l.Load(StdinPath, KindRaw)
	require.NoError(t, err)
	assert.Equal(t, "state.redis", doc["componentType"])
}

func TestLoadErrors(t *testing.T) {
	l := New(zap.NewNop())

	tests := []struct {
		name     string
		path     func(t *testing.T) string
		sentinel error
	}{
		{
			name:     "missing file",
			path:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			sentinel: ErrDocumentNotFound,
		},
		{
			name:     "invalid yaml",
			path:     func(t *testing.T) string { return writeFile(t, "name: [unclosed") },
			sentinel: ErrInvalidYAML,
		},
		{
			name:     "not a mapping",
			path:     func(t *testing.T) string { return writeFile(t, "- a\n- b\n") },
			sentinel: ErrInvalidFormat,
		},
		{
			name:     "empty",
			path:     func(t *testing.T) string { return writeFile(t, "") },
			sentinel: ErrInvalidFormat,
		},
		{
			name:     "multiple documents",
			path:     func(t *testing.T) string { return writeFile(t, "a: 1\n---\nb: 2\n") },
			sentinel: ErrMultipleDocuments,
		},
		{
			name:     "too large",
			path:     func(t *testing.T) string { return writeFile(t, "a: "+strings.Repeat("x", MaxDocumentSizeBytes)) },
			sentinel: ErrDocumentTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(tt.path(t), KindApp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestParseNonStringKeys(t *testing.T) {
	doc, err := Parse([]byte("metadata:\n  1: one\n  true: yes\n"), "inline")
	require.NoError(t, err)
	meta := doc["metadata"].(map[string]any)
	assert.Equal(t, "one", meta["1"])
	assert.Equal(t, "yes", meta["true"])
}
