package envelope

import (
	"errors"
	"fmt"
	"strings"
)

// ScaleRuleKind is the variant of a scale rule.
type ScaleRuleKind string

// Scale rule kinds.
const (
	ScaleRuleHTTP       ScaleRuleKind = "http"
	ScaleRuleTCP        ScaleRuleKind = "tcp"
	ScaleRuleCustom     ScaleRuleKind = "custom"
	ScaleRuleAzureQueue ScaleRuleKind = "azure-queue"
)

// Errors.
var (
	ErrScaleRuleVariant  = errors.New("scale rule must set exactly one of http, tcp, custom, azureQueue")
	ErrJobTriggerVariant = errors.New("job configuration must set exactly one trigger config")
)

// ScaleRule is a sum type: exactly one of HTTP, TCP, Custom, AzureQueue is set.
type ScaleRule struct {
	Name       string           `json:"name"`
	HTTP       *HTTPScaleRule   `json:"http,omitempty"`
	TCP        *TCPScaleRule    `json:"tcp,omitempty"`
	Custom     *CustomScaleRule `json:"custom,omitempty"`
	AzureQueue *QueueScaleRule  `json:"azureQueue,omitempty"`
}

// HTTPScaleRule scales on concurrent requests.
type HTTPScaleRule struct {
	Metadata map[string]string `json:"metadata,omitzero"`
	Auth     []ScaleRuleAuth   `json:"auth,omitzero"`
}

// TCPScaleRule scales on concurrent connections.
type TCPScaleRule struct {
	Metadata map[string]string `json:"metadata,omitzero"`
	Auth     []ScaleRuleAuth   `json:"auth,omitzero"`
}

// CustomScaleRule is a KEDA scaler.
type CustomScaleRule struct {
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitzero"`
	Auth     []ScaleRuleAuth   `json:"auth,omitzero"`
}

// QueueScaleRule scales on an Azure Storage queue.
type QueueScaleRule struct {
	QueueName   string          `json:"queueName"`
	QueueLength int32           `json:"queueLength"`
	Auth        []ScaleRuleAuth `json:"auth,omitzero"`
}

// ScaleRuleAuth maps a trigger parameter to a secret.
type ScaleRuleAuth struct {
	SecretRef        string `json:"secretRef"`
	TriggerParameter string `json:"triggerParameter"`
}

// NewScaleRule builds a rule of the given kind. For http and tcp the
// metadata is used as is; any other kind becomes a custom rule of that
// type.
func NewScaleRule(name, ruleType string, metadata map[string]string, auth []ScaleRuleAuth) ScaleRule {
	rule := ScaleRule{Name: name}
	switch strings.ToLower(ruleType) {
	case string(ScaleRuleHTTP):
		rule.HTTP = &HTTPScaleRule{Metadata: metadata, Auth: auth}
	case string(ScaleRuleTCP):
		rule.TCP = &TCPScaleRule{Metadata: metadata, Auth: auth}
	default:
		rule.Custom = &CustomScaleRule{Type: ruleType, Metadata: metadata, Auth: auth}
	}
	return rule
}

// Kind returns the variant, or an error unless exactly one is set.
func (r ScaleRule) Kind() (ScaleRuleKind, error) {
	var kinds []ScaleRuleKind
	if r.HTTP != nil {
		kinds = append(kinds, ScaleRuleHTTP)
	}
	if r.TCP != nil {
		kinds = append(kinds, ScaleRuleTCP)
	}
	if r.Custom != nil {
		kinds = append(kinds, ScaleRuleCustom)
	}
	if r.AzureQueue != nil {
		kinds = append(kinds, ScaleRuleAzureQueue)
	}
	if len(kinds) != 1 {
		return "", fmt.Errorf("%w: rule %q has %d", ErrScaleRuleVariant, r.Name, len(kinds))
	}
	return kinds[0], nil
}

// Auth returns the auth entries of whichever variant is set.
func (r ScaleRule) Auth() []ScaleRuleAuth {
	switch {
	case r.HTTP != nil:
		return r.HTTP.Auth
	case r.TCP != nil:
		return r.TCP.Auth
	case r.Custom != nil:
		return r.Custom.Auth
	case r.AzureQueue != nil:
		return r.AzureQueue.Auth
	}
	return nil
}
