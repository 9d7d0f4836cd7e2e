// Package validate holds the local pre-flight checks run before any request
// reaches the API.
//
// Two layers are provided:
//  1. Struct validation of flag sets via go-playground/validator with the
//     custom tags appname, revisionsuffix, cidr, location and memory
//  2. Cross-flag rules (ingress, registry, environment, traffic, CORS) and
//     the cpu/memory grid
//
// Every failure is an apperrors ValidationError.
package validate

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

// Validation patterns.
var (
	namePattern           = regexp.MustCompile(`^[a-z][-a-z0-9]{0,30}[a-z0-9]$`)
	revisionSuffixPattern = regexp.MustCompile(`^[a-z0-9][-a-z0-9]*[a-z0-9]?$`)
	locationPattern       = regexp.MustCompile(`^[a-z]{2,}[a-z0-9]*$`)
	hostLabelPattern      = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]{0,61}[a-z0-9])?$`)
	memoryPattern         = regexp.MustCompile(`^\d+(\.\d+)?(Gi)?$`)
)

// Limits.
const (
	maxHostnameLength = 253
	doubleDash        = "--"
)

// validate is the singleton validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators(validate)
}

// registerCustomValidators registers custom validation functions.
func registerCustomValidators(v *validator.Validate) {
	_ = v.RegisterValidation("appname", func(fl validator.FieldLevel) bool {
		return isValidName(fl.Field().String())
	})

	_ = v.RegisterValidation("revisionsuffix", func(fl validator.FieldLevel) bool {
		return isValidRevisionSuffix(fl.Field().String())
	})

	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		return locationPattern.MatchString(NormalizeLocation(fl.Field().String()))
	})

	_ = v.RegisterValidation("cidr", func(fl validator.FieldLevel) bool {
		return isValidCIDR(fl.Field().String())
	})

	_ = v.RegisterValidation("memory", func(fl validator.FieldLevel) bool {
		return memoryPattern.MatchString(fl.Field().String())
	})
}

// Struct validates a flag set against its validate tags.
func Struct(s any) error {
	return WrapValidationErrors(validate.Struct(s))
}

// WrapValidationErrors converts validator.ValidationErrors into a
// ValidationError naming the first failing field.
func WrapValidationErrors(err error) error {
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.Validation("%v", err)
	}
	if len(validationErrors) == 0 {
		return nil
	}

	fe := validationErrors[0]
	return &apperrors.Error{
		Kind:    apperrors.KindValidation,
		Message: fmt.Sprintf("invalid value %v for %s: %s", fe.Value(), fe.Field(), formatValidationMessage(fe)),
		Target:  fe.Field(),
	}
}

// formatValidationMessage creates a human-readable validation message.
func formatValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "appname":
		return "must consist of lower case alphanumeric characters or '-', start with a letter, end with an alphanumeric character, cannot have '--', and must be less than 32 characters"
	case "revisionsuffix":
		return "must consist of lower case alphanumeric characters or '-', start with an alphanumeric character and cannot have '--'"
	case "location":
		return "must be a valid Azure location"
	case "cidr":
		return "must be a valid CIDR notation (e.g., 10.0.0.0/16)"
	case "memory":
		return `must be a number optionally ending with "Gi", e.g. 1.0Gi`
	default:
		return fmt.Sprintf("failed validation '%s'", fe.Tag())
	}
}

func isValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, doubleDash)
}

func isValidRevisionSuffix(suffix string) bool {
	return revisionSuffixPattern.MatchString(suffix) && !strings.Contains(suffix, doubleDash)
}

func isValidCIDR(cidr string) bool {
	if cidr == "" {
		return false
	}
	prefix, err := netip.ParsePrefix(cidr)
	return err == nil && prefix.Addr().Is4()
}

// Name checks an app, job or environment name.
func Name(name string) error {
	if !isValidName(name) {
		return apperrors.Validation("invalid name %q: a name must consist of lower case alphanumeric characters or '-', start with a letter, end with an alphanumeric character, cannot have '--', and must be less than 32 characters", name)
	}
	return nil
}

// RevisionSuffix checks a revision suffix.
func RevisionSuffix(suffix string) error {
	if !isValidRevisionSuffix(suffix) {
		return apperrors.Validation("invalid revision suffix %q: it must consist of lower case alphanumeric characters or '-', start with an alphanumeric character and cannot have '--'", suffix)
	}
	return nil
}

// CIDR checks an IPv4 address range.
func CIDR(flag, cidr string) error {
	if !isValidCIDR(cidr) {
		return apperrors.Validation("invalid %s %q: must be a valid CIDR notation (e.g., 10.0.0.0/16)", flag, cidr)
	}
	return nil
}

// Hostname checks a custom domain: lowercase, at least two labels, each
// label RFC 1123.
func Hostname(hostname string) error {
	if hostname == "" || len(hostname) > maxHostnameLength || hostname != strings.ToLower(hostname) {
		return apperrors.Validation("invalid hostname %q: must be a lowercase domain name", hostname)
	}
	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		return apperrors.Validation("invalid hostname %q: must contain at least two labels", hostname)
	}
	for _, l := range labels {
		if !hostLabelPattern.MatchString(l) {
			return apperrors.Validation("invalid hostname %q: label %q is not a valid DNS label", hostname, l)
		}
	}
	return nil
}

// NormalizeLocation lowercases a location and removes spaces, so
// "West Europe" and "westeurope" compare equal.
func NormalizeLocation(location string) string {
	return strings.ToLower(strings.ReplaceAll(location, " ", ""))
}
