package envelope

import (
	"encoding/json"
	"strings"
)

// Certificate resource types.
const (
	TypeCertificate        = "Microsoft.App/managedEnvironments/certificates"
	TypeManagedCertificate = "Microsoft.App/managedEnvironments/managedCertificates"
)

// Domain control validation methods.
const (
	ValidationHTTP  = "HTTP"
	ValidationCNAME = "CNAME"
	ValidationTXT   = "TXT"
)

// Certificate is a private (uploaded) certificate.
type Certificate struct {
	ID         string                 `json:"id,omitempty"`
	Name       string                 `json:"name,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Location   string                 `json:"location,omitempty"`
	Tags       map[string]string      `json:"tags,omitzero"`
	SystemData json.RawMessage        `json:"systemData,omitempty"`
	Properties *CertificateProperties `json:"properties,omitempty"`
}

// CertificateProperties hold the blob on write and metadata on read.
type CertificateProperties struct {
	ProvisioningState       string   `json:"provisioningState,omitempty"`
	Password                string   `json:"password,omitempty"`
	SubjectName             string   `json:"subjectName,omitempty"`
	SubjectAlternativeNames []string `json:"subjectAlternativeNames,omitzero"`
	Value                   string   `json:"value,omitempty"`
	Issuer                  string   `json:"issuer,omitempty"`
	IssueDate               string   `json:"issueDate,omitempty"`
	ExpirationDate          string   `json:"expirationDate,omitempty"`
	Thumbprint              string   `json:"thumbprint,omitempty"`
	Valid                   *bool    `json:"valid,omitempty"`
	PublicKeyHash           string   `json:"publicKeyHash,omitempty"`
}

// Thumbprint returns the certificate thumbprint or "".
func (c *Certificate) Thumbprint() string {
	if c.Properties == nil {
		return ""
	}
	return c.Properties.Thumbprint
}

// ManagedCertificate is a certificate issued and renewed by the service.
type ManagedCertificate struct {
	ID         string                        `json:"id,omitempty"`
	Name       string                        `json:"name,omitempty"`
	Type       string                        `json:"type,omitempty"`
	Location   string                        `json:"location,omitempty"`
	Tags       map[string]string             `json:"tags,omitzero"`
	SystemData json.RawMessage               `json:"systemData,omitempty"`
	Properties *ManagedCertificateProperties `json:"properties,omitempty"`
}

// ManagedCertificateProperties describe subject and validation.
type ManagedCertificateProperties struct {
	ProvisioningState       string `json:"provisioningState,omitempty"`
	SubjectName             string `json:"subjectName,omitempty"`
	Error                   string `json:"error,omitempty"`
	DomainControlValidation string `json:"domainControlValidation,omitempty"`
	ValidationToken         string `json:"validationToken,omitempty"`
}

// SubjectName returns the subject name or "".
func (m *ManagedCertificate) SubjectName() string {
	if m.Properties == nil {
		return ""
	}
	return m.Properties.SubjectName
}

// IsUsable reports whether the certificate can back a binding.
func (m *ManagedCertificate) IsUsable() bool {
	if m.Properties == nil {
		return false
	}
	state := strings.ToLower(m.Properties.ProvisioningState)
	return state == "succeeded" || state == "pending"
}

// CheckNameAvailabilityRequest asks whether a child name is free.
type CheckNameAvailabilityRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Name availability reasons.
const (
	ReasonAlreadyExists = "AlreadyExists"
	ReasonInvalid       = "Invalid"
)

// CheckNameAvailabilityResponse answers a name check.
type CheckNameAvailabilityResponse struct {
	NameAvailable bool   `json:"nameAvailable"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
}
