package merge

import (
	"strings"

	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// upsert replaces the element of list whose key matches item's key
// case-insensitively, or appends item.
func upsert[T any](list []T, item T, key func(T) string) []T {
	if i := indexOf(list, key(item), key); i >= 0 {
		list[i] = item
		return list
	}
	return append(list, item)
}

// remove drops the element whose key matches name and reports whether one
// was found.
func remove[T any](list []T, name string, key func(T) string) ([]T, bool) {
	i := indexOf(list, name, key)
	if i < 0 {
		return list, false
	}
	return append(list[:i:i], list[i+1:]...), true
}

func indexOf[T any](list []T, name string, key func(T) string) int {
	for i, x := range list {
		if strings.EqualFold(key(x), name) {
			return i
		}
	}
	return -1
}

func containerName(c envelope.Container) string              { return c.Name }
func scaleRuleName(r envelope.ScaleRule) string              { return r.Name }
func customDomainName(d envelope.CustomDomain) string        { return d.Name }
func ipRuleName(r envelope.IPSecurityRestrictionRule) string { return r.Name }

// FindContainer returns the index of the named container or -1.
func FindContainer(containers []envelope.Container, name string) int {
	return indexOf(containers, name, containerName)
}

// SetScaleRule upserts rule by name.
func SetScaleRule(rules []envelope.ScaleRule, rule envelope.ScaleRule) []envelope.ScaleRule {
	return upsert(rules, rule, scaleRuleName)
}

// SetCustomDomain upserts a binding keyed by lowercase hostname.
func SetCustomDomain(domains []envelope.CustomDomain, d envelope.CustomDomain) []envelope.CustomDomain {
	d.Name = strings.ToLower(d.Name)
	return upsert(domains, d, customDomainName)
}

// RemoveCustomDomain drops the binding for hostname.
func RemoveCustomDomain(domains []envelope.CustomDomain, hostname string) ([]envelope.CustomDomain, bool) {
	return remove(domains, hostname, customDomainName)
}

// FindCustomDomain returns the binding for hostname or nil.
func FindCustomDomain(domains []envelope.CustomDomain, hostname string) *envelope.CustomDomain {
	if i := indexOf(domains, hostname, customDomainName); i >= 0 {
		return &domains[i]
	}
	return nil
}

// SetIPRestriction upserts rule by name.
func SetIPRestriction(rules []envelope.IPSecurityRestrictionRule, rule envelope.IPSecurityRestrictionRule) []envelope.IPSecurityRestrictionRule {
	return upsert(rules, rule, ipRuleName)
}

// RemoveIPRestriction drops the named rule.
func RemoveIPRestriction(rules []envelope.IPSecurityRestrictionRule, name string) ([]envelope.IPSecurityRestrictionRule, bool) {
	return remove(rules, name, ipRuleName)
}

// MergeTags adds or overwrites tags.
func MergeTags(existing, tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		existing[k] = v
	}
	return existing
}
