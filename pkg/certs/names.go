package certs

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Name part limits.
const (
	maxNamePrefixLen   = 14
	maxNameHostLen     = 16
	thumbprintNameLen  = 4
	managedNamePrefix  = "mc"
	randomNameModulus  = 10000
	maxNameGenerations = 20
)

// randomDigits returns the four-digit suffix of generated names.
var randomDigits = func() int {
	return rand.IntN(randomNameModulus)
}

// RandomName generates a private certificate name from the environment,
// a second prefix (usually the resource group) and the thumbprint.
func RandomName(thumbprint, env, initial string) string {
	name := fmt.Sprintf("%s-%s-%s-%04d",
		truncate(env, maxNamePrefixLen),
		truncate(initial, maxNamePrefixLen),
		strings.ToLower(truncate(thumbprint, thumbprintNameLen)),
		randomDigits())
	return sanitize(name, true)
}

// RandomManagedName generates a managed certificate name for hostname.
func RandomManagedName(hostname, env string) string {
	name := fmt.Sprintf("%s-%s-%s-%04d",
		managedNamePrefix,
		truncate(env, maxNamePrefixLen),
		strings.ToLower(truncate(hostname, maxNameHostLen)),
		randomDigits())
	return sanitize(name, false)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// sanitize lowercases name and replaces characters other than letters,
// digits, '-' and optionally '.' with '-'.
func sanitize(name string, allowDot bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		case r == '.' && allowDot:
			return r
		}
		return '-'
	}, strings.ToLower(name))
}
