// Package certs manages environment certificates and the custom domains
// bound to container apps.
//
// Features:
//  1. Loading of PFX and PEM certificate files with thumbprint
//  2. Private certificate upload, listing and deletion
//  3. Managed certificate issuance with name availability checks
//  4. Hostname add, bind, list and delete on app ingress
package certs

import (
	"crypto/sha1" //nolint:gosec // certificate thumbprints are SHA-1 by definition
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
)

// Supported certificate file extensions.
const (
	ExtPFX = ".pfx"
	ExtPEM = ".pem"
	ExtCRT = ".crt"

	pemTypeCertificate = "CERTIFICATE"
)

// Errors.
var (
	ErrUnsupportedFile = errors.New("not a valid file type, only .pfx, .pem and .crt files are supported")
	ErrNoCertificate   = errors.New("no certificate found in file")
)

// File is a loaded certificate ready for upload.
type File struct {
	// Blob is the base64 encoded file content.
	Blob string
	// Thumbprint is the upper-case hex SHA-1 of the leaf certificate.
	Thumbprint string
	// Leaf is the parsed leaf certificate.
	Leaf *x509.Certificate
}

// Load reads and parses a certificate file. The password is only used for
// PFX files.
func Load(path, password string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Validation("failed to read certificate file %q: %v", path, err)
	}
	return Parse(data, filepath.Ext(path), password)
}

// Parse parses certificate bytes according to the file extension.
func Parse(data []byte, ext, password string) (*File, error) {
	var (
		leaf *x509.Certificate
		err  error
	)
	switch strings.ToLower(ext) {
	case ExtPFX:
		leaf, err = parsePFX(data, password)
	case ExtPEM, ExtCRT:
		leaf, err = parsePEM(data)
	default:
		return nil, &apperrors.Error{Kind: apperrors.KindValidation, Message: ErrUnsupportedFile.Error(), Err: ErrUnsupportedFile}
	}
	if err != nil {
		return nil, err
	}
	return &File{
		Blob:       base64.StdEncoding.EncodeToString(data),
		Thumbprint: Thumbprint(leaf),
		Leaf:       leaf,
	}, nil
}

// Thumbprint returns the upper-case hex SHA-1 of the certificate DER.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw) //nolint:gosec // see import
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func parsePFX(data []byte, password string) (*x509.Certificate, error) {
	_, cert, err := pkcs12.Decode(data, password)
	if err == nil {
		return cert, nil
	}
	// Decode rejects bundles carrying a chain; ToPEM accepts them and the
	// leaf comes first.
	blocks, pemErr := pkcs12.ToPEM(data, password)
	if pemErr != nil {
		return nil, apperrors.Validation("failed to load the certificate file, this may be due to an incorrect or missing password: %v", err)
	}
	for _, b := range blocks {
		if b.Type == pemTypeCertificate {
			return parseDER(b.Bytes)
		}
	}
	return nil, &apperrors.Error{Kind: apperrors.KindValidation, Message: ErrNoCertificate.Error(), Err: ErrNoCertificate}
}

func parsePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, &apperrors.Error{Kind: apperrors.KindValidation, Message: ErrNoCertificate.Error(), Err: ErrNoCertificate}
		}
		if block.Type == pemTypeCertificate {
			return parseDER(block.Bytes)
		}
	}
}

func parseDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperrors.Validation("failed to parse certificate: %v", err)
	}
	return cert, nil
}
