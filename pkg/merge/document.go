// Package merge combines existing remote state, declarative documents and
// flag patches into the envelope sent to the API.
//
// Two representations are handled:
//   - Documents (map[string]any) loaded from YAML or JSON, which are
//     normalised, stripped and null-pruned before decoding
//   - Typed envelopes, which are patched with named-list upserts
package merge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Document keys.
const (
	keyProperties             = "properties"
	keyIdentity               = "identity"
	keyUserAssignedIdentities = "userAssignedIdentities"
	keyManagedEnvironmentID   = "managedEnvironmentId"
	keyEnvironmentID          = "environmentId"
	keyAdditionalProperties   = "additionalProperties"
)

// clearMarker serialises as JSON null and survives NullPrune.
type clearMarker struct{}

// MarshalJSON implements json.Marshaler.
func (clearMarker) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Clear marks a document key that must reach the API as an explicit null.
var Clear any = clearMarker{}

// appNestedKeys are app fields a document may carry at the top level that
// belong under properties.
var appNestedKeys = []string{
	"provisioningState",
	keyManagedEnvironmentID,
	keyEnvironmentID,
	"latestRevisionName",
	"latestRevisionFqdn",
	"customDomainVerificationId",
	"configuration",
	"template",
	"outboundIPAddresses",
	"workloadProfileName",
	"latestReadyRevisionName",
	"eventStreamEndpoint",
}

// jobNestedKeys are the job equivalent of appNestedKeys.
var jobNestedKeys = []string{
	"provisioningState",
	keyManagedEnvironmentID,
	keyEnvironmentID,
	"configuration",
	"template",
	"outboundIPAddresses",
	"workloadProfileName",
	"eventStreamEndpoint",
}

// readOnlyKeys are removed from documents at the top level and under
// properties.
var readOnlyKeys = []string{
	"id",
	"name",
	"type",
	"systemData",
	"provisioningState",
	"latestRevisionName",
	"latestRevisionFqdn",
	"latestReadyRevisionName",
	"customDomainVerificationId",
	"outboundIpAddresses",
	"outboundIPAddresses",
	"fqdn",
	"eventStreamEndpoint",
}

// NormalizeAppDocument moves top-level app fields under properties, empties
// every userAssignedIdentities value and folds managedEnvironmentId into
// environmentId. It fails when doc is not an object.
func NormalizeAppDocument(doc any) (map[string]any, error) {
	return normalizeDocument(doc, appNestedKeys)
}

// NormalizeJobDocument is NormalizeAppDocument for jobs.
func NormalizeJobDocument(doc any) (map[string]any, error) {
	return normalizeDocument(doc, jobNestedKeys)
}

func normalizeDocument(doc any, nested []string) (map[string]any, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, apperrors.Validation("invalid document: the top level must be an object")
	}
	props, _ := m[keyProperties].(map[string]any)
	if props == nil {
		props = map[string]any{}
		m[keyProperties] = props
	}

	if identity, ok := m[keyIdentity].(map[string]any); ok {
		if uai, ok := identity[keyUserAssignedIdentities].(map[string]any); ok {
			for id := range uai {
				uai[id] = map[string]any{}
			}
		}
	}

	for _, key := range nested {
		if v, ok := m[key]; ok {
			props[key] = v
			delete(m, key)
		}
	}

	if v, ok := props[keyManagedEnvironmentID]; ok {
		if s, _ := v.(string); s != "" {
			props[keyEnvironmentID] = s
		}
		delete(props, keyManagedEnvironmentID)
	}
	return m, nil
}

// StripReadOnly removes server-computed keys from a document. Applying it
// twice is the same as applying it once.
func StripReadOnly(doc map[string]any) {
	props, _ := doc[keyProperties].(map[string]any)
	for _, key := range readOnlyKeys {
		delete(doc, key)
		if props != nil {
			delete(props, key)
		}
	}
	if ingress := lookupMap(doc, keyProperties, "configuration", "ingress"); ingress != nil {
		delete(ingress, "fqdn")
	}
}

// StripAdditionalProperties removes every additionalProperties key in v,
// recursively.
func StripAdditionalProperties(v any) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, keyAdditionalProperties)
		for _, child := range t {
			StripAdditionalProperties(child)
		}
	case []any:
		for _, child := range t {
			StripAdditionalProperties(child)
		}
	}
}

// NullPrune returns v with nil values, empty objects and empty lists
// removed at every depth. Keys holding Clear are kept. Applying it twice is
// the same as applying it once.
func NullPrune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			pruned := NullPrune(child)
			if isEmpty(pruned) {
				continue
			}
			out[k] = pruned
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, child := range t {
			pruned := NullPrune(child)
			if isEmpty(pruned) {
				continue
			}
			out = append(out, pruned)
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// PruneDocument is NullPrune for a top-level object.
func PruneDocument(doc map[string]any) map[string]any {
	out, _ := NullPrune(doc).(map[string]any)
	return out
}

// EnvironmentIDOf returns properties.environmentId of a normalised document.
func EnvironmentIDOf(doc map[string]any) string {
	props, _ := doc[keyProperties].(map[string]any)
	s, _ := props[keyEnvironmentID].(string)
	return s
}

// SetEnvironmentID sets properties.environmentId.
func SetEnvironmentID(doc map[string]any, id string) {
	props, _ := doc[keyProperties].(map[string]any)
	if props == nil {
		props = map[string]any{}
		doc[keyProperties] = props
	}
	props[keyEnvironmentID] = id
}

// DropEnvironmentID removes properties.environmentId, used when an update
// document targets the environment the resource already lives in.
func DropEnvironmentID(doc map[string]any) {
	if props, ok := doc[keyProperties].(map[string]any); ok {
		delete(props, keyEnvironmentID)
	}
}

// StringOf returns a top-level string value of a document.
func StringOf(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

// Decode converts a document into a typed envelope.
func Decode[T any](doc map[string]any) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, apperrors.Validation("document does not match the %T schema: %v", *v, err)
	}
	return v, nil
}

// Encode converts an envelope into a document.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return doc, nil
}

// CheckType validates the document type against want. An absent type is
// accepted.
func CheckType(doc map[string]any, want string) error {
	got := StringOf(doc, "type")
	if got != "" && !strings.EqualFold(got, want) {
		return apperrors.Validation("document type %q does not match %q", got, want)
	}
	return nil
}

// PrepareAppPatch turns a loaded update document into a full-replace PATCH
// body: normalised, stripped of read-only fields, secrets re-populated
// from values and null-pruned.
func PrepareAppPatch(doc any, values []envelope.ContainerAppSecret) (*envelope.ContainerApp, error) {
	m, err := NormalizeAppDocument(doc)
	if err != nil {
		return nil, err
	}
	StripReadOnly(m)
	StripAdditionalProperties(m)
	app, err := Decode[envelope.ContainerApp](PruneDocument(m))
	if err != nil {
		return nil, err
	}
	if app.Properties != nil && app.Properties.Configuration != nil {
		PopulateSecretValues(app.Properties.Configuration.Secrets, values)
	}
	return app, nil
}

func lookupMap(doc map[string]any, path ...string) map[string]any {
	cur := doc
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}
