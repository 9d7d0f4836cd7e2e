package merge

import (
	"net/url"
	"strings"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Value prefixes.
const (
	SecretRefPrefix   = "secretref:"
	keyVaultRefPrefix = "keyvaultref:"
	identityRefPrefix = "identityref:"
	// RegistryIdentitySystem selects the system-assigned identity for pulls.
	RegistryIdentitySystem = "system"
)

// RegistrySecretName is the name of the secret holding the password for
// user at server: the host without dots (a port colon becomes a dash), a
// dash, then the lowercased user.
func RegistrySecretName(server, user string) string {
	host := strings.ReplaceAll(server, ":", "-")
	if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ReplaceAll(host, ".", "")
	return host + "-" + strings.ToLower(user)
}

// RegistryWithPassword returns the registry entry and the secret it
// references. They must be added and removed together.
func RegistryWithPassword(server, user, password string) (envelope.RegistryCredentials, envelope.Secret) {
	name := RegistrySecretName(server, user)
	return envelope.RegistryCredentials{
			Server:            server,
			Username:          user,
			PasswordSecretRef: name,
		}, envelope.Secret{
			Name:  name,
			Value: password,
		}
}

// RegistryWithIdentity returns a registry entry that pulls with identity,
// either a user-assigned identity id or RegistryIdentitySystem.
func RegistryWithIdentity(server, identity string) envelope.RegistryCredentials {
	return envelope.RegistryCredentials{Server: server, Identity: identity}
}

// StorePassword resolves password into a secret name in secrets. A
// "secretref:" password must name an existing secret. A literal password
// is stored under RegistrySecretName, updating a differing value only
// when updateExisting is set. added reports whether a secret was appended.
func StorePassword(secrets []envelope.Secret, server, user, password string, updateExisting bool) (out []envelope.Secret, name string, added bool, err error) {
	if strings.HasPrefix(password, SecretRefPrefix) {
		ref := strings.TrimPrefix(password, SecretRefPrefix)
		if ref == "" {
			return secrets, "", false, apperrors.Validation("invalid registry password secret: value must be a non-empty value starting with 'secretref:'")
		}
		if findSecret(secrets, ref) < 0 {
			return secrets, "", false, apperrors.Validation("registry password secret %q does not exist; add it with --secrets", ref)
		}
		return secrets, ref, false, nil
	}

	reg, secret := RegistryWithPassword(server, user, password)
	if i := findSecret(secrets, reg.PasswordSecretRef); i >= 0 {
		if secrets[i].Value != password {
			if !updateExisting {
				return secrets, "", false, apperrors.Validation("found secret %q but its value does not equal the supplied registry password", reg.PasswordSecretRef)
			}
			secrets[i].Value = password
		}
		return secrets, reg.PasswordSecretRef, false, nil
	}
	return append(secrets, secret), reg.PasswordSecretRef, true, nil
}

// SetRegistry upserts reg keyed by server.
func SetRegistry(registries []envelope.RegistryCredentials, reg envelope.RegistryCredentials) []envelope.RegistryCredentials {
	return upsert(registries, reg, func(r envelope.RegistryCredentials) string { return r.Server })
}

// RemoveRegistry drops the registry for server and the secret coupled to
// it. found is false when no registry matches.
func RemoveRegistry(registries []envelope.RegistryCredentials, secrets []envelope.Secret, server string) ([]envelope.RegistryCredentials, []envelope.Secret, bool) {
	for i, r := range registries {
		if !strings.EqualFold(r.Server, server) {
			continue
		}
		if r.Username != "" {
			secrets = RemoveSecret(secrets, RegistrySecretName(r.Server, r.Username))
		}
		return append(registries[:i:i], registries[i+1:]...), secrets, true
	}
	return registries, secrets, false
}

// FindRegistry returns the registry for server, or nil.
func FindRegistry(registries []envelope.RegistryCredentials, server string) *envelope.RegistryCredentials {
	for i := range registries {
		if strings.EqualFold(registries[i].Server, server) {
			return &registries[i]
		}
	}
	return nil
}

// ParseSecrets parses "name=value" and
// "name=keyvaultref:url,identityref:id" flags. Names must be unique.
func ParseSecrets(pairs []string) ([]envelope.Secret, error) {
	const usage = `secrets must be in format "<key>=<value> <key>=<value> ..." or "<key>=keyvaultref:<keyvaulturl>,identityref:<identityId> ..."`
	seen := map[string]bool{}
	out := make([]envelope.Secret, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, apperrors.Validation("%s", usage)
		}
		if seen[name] {
			return nil, apperrors.Validation("duplicate secret %q found, secret names must be unique", name)
		}
		seen[name] = true

		secret := envelope.Secret{Name: name, Value: value}
		kv, identity, hasComma := strings.Cut(value, ",")
		switch {
		case !hasComma && strings.HasPrefix(value, keyVaultRefPrefix):
			return nil, apperrors.Validation("identityref is missing; %s", usage)
		case !hasComma && strings.HasPrefix(value, identityRefPrefix):
			return nil, apperrors.Validation("keyvaultref is missing; %s", usage)
		case hasComma && strings.HasPrefix(kv, keyVaultRefPrefix) && strings.HasPrefix(identity, identityRefPrefix):
			secret.Value = ""
			secret.KeyVaultURL = strings.TrimPrefix(kv, keyVaultRefPrefix)
			secret.Identity = strings.TrimPrefix(identity, identityRefPrefix)
		}
		out = append(out, secret)
	}
	return out, nil
}

// SetSecrets upserts secrets by case-insensitive name. An update replaces
// the value and key vault reference together.
func SetSecrets(existing, updates []envelope.Secret) []envelope.Secret {
	for _, s := range updates {
		existing = upsert(existing, s, func(x envelope.Secret) string { return x.Name })
	}
	return existing
}

// RemoveSecret drops the secret called name.
func RemoveSecret(secrets []envelope.Secret, name string) []envelope.Secret {
	if i := findSecret(secrets, name); i >= 0 {
		return append(secrets[:i:i], secrets[i+1:]...)
	}
	return secrets
}

// RemoveSecrets drops every named secret and reports the names that were
// not present.
func RemoveSecrets(secrets []envelope.Secret, names []string) ([]envelope.Secret, []string) {
	var missing []string
	for _, name := range names {
		if findSecret(secrets, name) < 0 {
			missing = append(missing, name)
			continue
		}
		secrets = RemoveSecret(secrets, name)
	}
	return secrets, missing
}

// PopulateSecretValues fills secrets that have no value and no key vault
// reference from values, matching by name.
func PopulateSecretValues(secrets []envelope.Secret, values []envelope.ContainerAppSecret) {
	byName := make(map[string]string, len(values))
	for _, v := range values {
		byName[v.Name] = v.Value
	}
	for i := range secrets {
		if secrets[i].Value != "" || secrets[i].KeyVaultURL != "" {
			continue
		}
		if v, ok := byName[secrets[i].Name]; ok {
			secrets[i].Value = v
		}
	}
}

// SecretsFromList converts a listSecrets response into writable secrets.
func SecretsFromList(values []envelope.ContainerAppSecret) []envelope.Secret {
	out := make([]envelope.Secret, 0, len(values))
	for _, v := range values {
		out = append(out, envelope.Secret{Name: v.Name, Value: v.Value, KeyVaultURL: v.KeyVaultURL, Identity: v.Identity})
	}
	return out
}

// UnreferencedSecretRefs returns env var secretRefs in containers that name
// no secret in secrets.
func UnreferencedSecretRefs(containers []envelope.Container, secrets []envelope.Secret) []string {
	var missing []string
	for _, c := range containers {
		for _, e := range c.Env {
			if e.SecretRef != "" && findSecret(secrets, e.SecretRef) < 0 {
				missing = append(missing, e.SecretRef)
			}
		}
	}
	return missing
}

func findSecret(secrets []envelope.Secret, name string) int {
	for i, s := range secrets {
		if strings.EqualFold(s.Name, name) {
			return i
		}
	}
	return -1
}
