package validate

import (
	"strconv"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Ingress visibilities.
const (
	IngressExternal = "external"
	IngressInternal = "internal"
)

// Limits.
const (
	MaxWeight          = 100
	MaxReplicas        = 1000
	MaxRegistryNameLen = 121
	acrHostFragment    = ".azurecr."
)

// IngressFlags are the ingress flags of create, update and ingress enable.
type IngressFlags struct {
	Ingress       string `validate:"omitempty,oneof=internal external"`
	TargetPort    *int32 `validate:"omitempty,min=1,max=65535"`
	ExposedPort   *int32 `validate:"omitempty,min=1,max=65535"`
	Transport     string `validate:"omitempty,oneof=auto http http2 tcp"`
	AllowInsecure bool
}

// Check validates the flags and their combinations. hasIngress reports
// whether the target already has ingress configured.
func (f IngressFlags) Check(hasIngress bool) error {
	if err := Struct(f); err != nil {
		return err
	}
	enabled := f.Ingress != "" || hasIngress
	if f.TargetPort != nil && !enabled {
		return apperrors.Validation("usage error: --target-port requires --ingress")
	}
	if f.AllowInsecure {
		if !enabled {
			return apperrors.Validation("usage error: --allow-insecure requires --ingress")
		}
		if strings.EqualFold(f.Transport, envelope.TransportTCP) {
			return apperrors.Validation("usage error: --allow-insecure is not supported with --transport tcp")
		}
	}
	if f.ExposedPort != nil && !strings.EqualFold(f.Transport, envelope.TransportTCP) {
		return apperrors.Validation("usage error: --exposed-port is only supported with --transport tcp")
	}
	return nil
}

// RegistryFlags are the image registry flags.
type RegistryFlags struct {
	Server   string
	Username string
	Password string
	Identity string
}

// IsZero reports whether no registry flag is set.
func (f RegistryFlags) IsZero() bool {
	return f == RegistryFlags{}
}

// Check enforces identity XOR username/password, identity only for Azure
// Container Registry, and noWait XOR a system identity.
func (f RegistryFlags) Check(noWait bool) error {
	if f.Identity != "" {
		if f.Username != "" || f.Password != "" {
			return apperrors.Validation("usage error: --registry-identity cannot be used with --registry-username or --registry-password")
		}
		if f.Server == "" {
			return apperrors.RequiredArgument("usage error: --registry-server is required with --registry-identity")
		}
		if !IsACRServer(f.Server) {
			return apperrors.Validation("usage error: --registry-identity is only supported for Azure Container Registry servers")
		}
		if noWait && strings.EqualFold(f.Identity, "system") {
			return apperrors.Validation("usage error: --no-wait is not supported with a system registry identity")
		}
		return nil
	}
	if (f.Username == "") != (f.Password == "") {
		return apperrors.RequiredArgument("usage error: --registry-username and --registry-password must be provided together")
	}
	if f.Username != "" && f.Server == "" {
		return apperrors.RequiredArgument("usage error: --registry-server is required with --registry-username")
	}
	return nil
}

// IsACRServer reports whether server is an Azure Container Registry.
func IsACRServer(server string) bool {
	return strings.Contains(strings.ToLower(server), acrHostFragment)
}

// ReplicaBounds checks min and max replicas.
func ReplicaBounds(minReplicas, maxReplicas *int32) error {
	if minReplicas != nil && (*minReplicas < 0 || *minReplicas > MaxReplicas) {
		return apperrors.Validation("--min-replicas must be between 0 and %d", MaxReplicas)
	}
	if maxReplicas != nil && (*maxReplicas < 1 || *maxReplicas > MaxReplicas) {
		return apperrors.Validation("--max-replicas must be between 1 and %d", MaxReplicas)
	}
	if minReplicas != nil && maxReplicas != nil && *minReplicas > *maxReplicas {
		return apperrors.Validation("--min-replicas cannot be greater than --max-replicas")
	}
	return nil
}

// CORSMaxAge parses the max-age flag: an empty string clears the value.
func CORSMaxAge(s string) (envelope.Nullable[int32], error) {
	if s == "" {
		return envelope.Null[int32](), nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil || n < 0 {
		return envelope.Nullable[int32]{}, apperrors.Validation("invalid --max-age %q: must be a non-negative integer or an empty string", s)
	}
	return envelope.Value(int32(n)), nil
}

// Weight parses a traffic weight between 0 and 100.
func Weight(s string) (int32, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > MaxWeight {
		return 0, apperrors.Validation("traffic weights must be integers between 0 and 100")
	}
	return int32(n), nil
}

// WeightPair parses "<key>=<weight>".
func WeightPair(pair string) (string, int32, error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return "", 0, apperrors.Validation(`traffic weights must be in format "<revision>=<weight> <revision2>=<weight2> ..."`)
	}
	w, err := Weight(value)
	if err != nil {
		return "", 0, err
	}
	return key, w, nil
}

// TrafficSum rejects weight flags summing above 100.
func TrafficSum(pairs ...[]string) error {
	var sum int32
	for _, list := range pairs {
		for _, p := range list {
			_, w, err := WeightPair(p)
			if err != nil {
				return err
			}
			sum += w
		}
	}
	if sum > MaxWeight {
		return apperrors.Validation("traffic sums may not exceed 100")
	}
	return nil
}

// UniformAction rejects a rule whose action differs from the existing
// rules. Mixing Allow and Deny is not supported.
func UniformAction(rules []envelope.IPSecurityRestrictionRule, action string) error {
	if !strings.EqualFold(action, envelope.ActionAllow) && !strings.EqualFold(action, envelope.ActionDeny) {
		return apperrors.Validation("invalid action %q: must be Allow or Deny", action)
	}
	for _, r := range rules {
		if !strings.EqualFold(r.Action, action) {
			return apperrors.Validation("all ip security restrictions must have the same action; existing rules use %s", r.Action)
		}
	}
	return nil
}

// RegistryNameForRepo bounds the registry name used with --repo.
func RegistryNameForRepo(name string) error {
	if len(name) > MaxRegistryNameLen {
		return apperrors.Validation("registry name %q is too long: must be at most %d characters with --repo", name, MaxRegistryNameLen)
	}
	return nil
}

// EnvironmentFlags are the network and security flags of environment
// create.
type EnvironmentFlags struct {
	Location               string `validate:"omitempty,location"`
	InfrastructureSubnetID string
	PlatformReservedCidr   string `validate:"omitempty,cidr"`
	DockerBridgeCidr       string `validate:"omitempty,cidr"`
	PlatformReservedDNSIP  string `validate:"omitempty,ip4_addr"`
	Internal               bool
	ZoneRedundant          bool
	MTLS                   *bool
	PeerEncryption         *bool
	LogsDestination        string `validate:"omitempty,oneof=log-analytics azure-monitor none"`
	LogsCustomerID         string
	LogsKey                string
}

// Check validates the flags and their combinations.
func (f EnvironmentFlags) Check() error {
	if err := Struct(f); err != nil {
		return err
	}
	if f.Internal && f.InfrastructureSubnetID == "" {
		return apperrors.Validation("usage error: --internal-only requires --infrastructure-subnet-resource-id")
	}
	if f.ZoneRedundant && f.InfrastructureSubnetID == "" {
		return apperrors.Validation("usage error: --zone-redundant requires --infrastructure-subnet-resource-id")
	}
	if f.MTLS != nil && *f.MTLS && f.PeerEncryption != nil && !*f.PeerEncryption {
		return apperrors.Validation("usage error: mTLS requires peer-to-peer traffic encryption")
	}
	if f.LogsDestination == "log-analytics" && (f.LogsCustomerID == "") != (f.LogsKey == "") {
		return apperrors.RequiredArgument("usage error: --logs-workspace-id and --logs-workspace-key must be provided together")
	}
	return nil
}
