package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/envelope"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/testutil"
)

// Test constants to avoid literal duplication.
const (
	testSub      = "00000000-0000-0000-0000-000000000001"
	testRG       = "rg1"
	testEnv      = "env1"
	testApp      = "app1"
	testHost     = "www.contoso.com"
	testLocation = "westeurope"
	testEnvPath  = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/managedEnvironments/" + testEnv
	testAppPath  = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/containerApps/" + testApp
)

var testEnvironment = Environment{ResourceGroup: testRG, Name: testEnv}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testutil.FakeARM) {
	t.Helper()
	fake := testutil.NewFakeARM(t)
	client := fake.Client(t)
	poller := lro.NewPoller(client, zap.NewNop(), lro.WithClock(testutil.NewFakeClock()))
	c := clients.New(client, poller, clients.Settings{Endpoint: fake.URL(), SubscriptionID: testSub}, zap.NewNop())
	fake.Seed(testEnvPath, map[string]any{"id": testEnvPath, "name": testEnv, "location": testLocation})
	return NewManager(c, zap.NewNop(), opts...), fake
}

func writeTestPEM(t *testing.T) (string, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: testHost},
		DNSNames:     []string{testHost},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cert.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, cert
}

func seedPrivate(fake *testutil.FakeARM, name, thumbprint, location string) {
	fake.Seed(testEnvPath+"/certificates/"+name, map[string]any{
		"id":         testEnvPath + "/certificates/" + name,
		"name":       name,
		"location":   location,
		"properties": map[string]any{"thumbprint": thumbprint},
	})
}

func seedManaged(fake *testutil.FakeARM, name, subject, state string) {
	fake.Seed(testEnvPath+"/managedCertificates/"+name, map[string]any{
		"id":         testEnvPath + "/managedCertificates/" + name,
		"name":       name,
		"location":   testLocation,
		"properties": map[string]any{"subjectName": subject, "provisioningState": state},
	})
}

func seedApp(fake *testutil.FakeARM, domains ...map[string]any) {
	list := make([]any, 0, len(domains))
	for _, d := range domains {
		list = append(list, d)
	}
	fake.Seed(testAppPath, map[string]any{
		"id":       testAppPath,
		"name":     testApp,
		"location": testLocation,
		"properties": map[string]any{
			"environmentId": testEnvPath,
			"configuration": map[string]any{"ingress": map[string]any{"customDomains": list}},
		},
	})
}

func handleDNS(fake *testutil.FakeARM, result string) {
	fake.Handle(http.MethodPost, testAppPath+"/listCustomHostNameAnalysis", testutil.FakeResponse{
		Body: map[string]any{"customDomainVerificationTest": result, "hasConflictOnManagedEnvironment": false},
	})
}

func TestParsePEM(t *testing.T) {
	path, cert := writeTestPEM(t)

	f, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, Thumbprint(cert), f.Thumbprint)
	assert.Len(t, f.Thumbprint, 40)
	assert.Equal(t, strings.ToUpper(f.Thumbprint), f.Thumbprint)
	assert.NotEmpty(t, f.Blob)
	assert.Equal(t, testHost, f.Leaf.Subject.CommonName)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ext  string
	}{
		{name: "unsupported extension", data: []byte("x"), ext: ".txt"},
		{name: "pem without certificate", data: []byte("not pem"), ext: ExtPEM},
		{name: "pfx garbage", data: []byte("not pfx"), ext: ExtPFX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data, tt.ext, "")
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestRandomNames(t *testing.T) {
	orig := randomDigits
	randomDigits = func() int { return 42 }
	t.Cleanup(func() { randomDigits = orig })

	assert.Equal(t, "my-environment-my-resource-gr-ab12-0042", RandomName("AB12CD", "my-environment-name", "my_resource_group"))
	assert.Equal(t, "mc-env1-www-contoso-com-0042", RandomManagedName("WWW.contoso.com", testEnv))
}

func TestEnvironmentFrom(t *testing.T) {
	env, err := EnvironmentFrom(testRG, testEnv)
	require.NoError(t, err)
	assert.Equal(t, testEnvironment, env)

	env, err = EnvironmentFrom("other", testEnvPath)
	require.NoError(t, err)
	assert.Equal(t, testEnvironment, env)
}

func TestListCertificates(t *testing.T) {
	m, fake := newTestManager(t)
	seedPrivate(fake, "p1", "AAAA", testLocation)
	seedPrivate(fake, "p2", "BBBB", "East US")
	seedManaged(fake, "mc1", testHost, "Succeeded")
	ctx := context.Background()

	t.Run("both kinds", func(t *testing.T) {
		list, err := m.List(ctx, testEnvironment, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, list.Managed, 1)
		assert.Len(t, list.Private, 2)
		assert.Equal(t, 3, list.Len())
		_, first := list.All()[0].(*envelope.ManagedCertificate)
		assert.True(t, first)
	})

	t.Run("thumbprint selects private", func(t *testing.T) {
		list, err := m.List(ctx, testEnvironment, ListOptions{Thumbprint: "BBBB"})
		require.NoError(t, err)
		assert.Empty(t, list.Managed)
		require.Len(t, list.Private, 1)
		assert.Equal(t, "p2", list.Private[0].Name)
	})

	t.Run("location filter", func(t *testing.T) {
		list, err := m.List(ctx, testEnvironment, ListOptions{Location: "West Europe", PrivateOnly: true})
		require.NoError(t, err)
		require.Len(t, list.Private, 1)
		assert.Equal(t, "p1", list.Private[0].Name)
	})

	t.Run("certificate id selects kind", func(t *testing.T) {
		list, err := m.List(ctx, testEnvironment, ListOptions{Certificate: testEnvPath + "/managedCertificates/mc1"})
		require.NoError(t, err)
		assert.Len(t, list.Managed, 1)
		assert.Empty(t, list.Private)
	})

	t.Run("missing name is empty", func(t *testing.T) {
		list, err := m.List(ctx, testEnvironment, ListOptions{Certificate: "nope"})
		require.NoError(t, err)
		assert.Zero(t, list.Len())
	})

	t.Run("exclusive flags", func(t *testing.T) {
		_, err := m.List(ctx, testEnvironment, ListOptions{ManagedOnly: true, PrivateOnly: true})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = m.List(ctx, testEnvironment, ListOptions{ManagedOnly: true, Thumbprint: "AAAA"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestUpload(t *testing.T) {
	path, cert := writeTestPEM(t)

	t.Run("named certificate", func(t *testing.T) {
		m, fake := newTestManager(t)
		fake.Handle(http.MethodPost, testEnvPath+"/checkNameAvailability", testutil.FakeResponse{Body: map[string]any{"nameAvailable": true}})

		out, err := m.Upload(context.Background(), testEnvironment, UploadOptions{File: path, Name: "mycert"})
		require.NoError(t, err)
		assert.Equal(t, "mycert", out.Name)

		stored, ok := fake.Resource(testEnvPath + "/certificates/mycert")
		require.True(t, ok)
		assert.Equal(t, testLocation, stored["location"])
		assert.NotEmpty(t, stored["properties"].(map[string]any)["value"])

		check, _ := fake.LastRequest(http.MethodPost, testEnvPath+"/checkNameAvailability")
		assert.Equal(t, envelope.TypeCertificate, check.JSON()["type"])
	})

	t.Run("existing name overwritten", func(t *testing.T) {
		m, fake := newTestManager(t)
		fake.Handle(http.MethodPost, testEnvPath+"/checkNameAvailability", testutil.FakeResponse{
			Body: map[string]any{"nameAvailable": false, "reason": envelope.ReasonAlreadyExists, "message": "exists"},
		})

		out, err := m.Upload(context.Background(), testEnvironment, UploadOptions{File: path, Name: "mycert"})
		require.NoError(t, err)
		assert.Equal(t, "mycert", out.Name)
	})

	t.Run("declined overwrite generates name", func(t *testing.T) {
		m, fake := newTestManager(t, WithConfirm(func(string) bool { return false }))
		fake.Handle(http.MethodPost, testEnvPath+"/checkNameAvailability",
			testutil.FakeResponse{Body: map[string]any{"nameAvailable": false, "reason": envelope.ReasonAlreadyExists, "message": "exists"}},
			testutil.FakeResponse{Body: map[string]any{"nameAvailable": true}},
		)

		out, err := m.Upload(context.Background(), testEnvironment, UploadOptions{File: path, Name: "mycert", Prompt: true})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out.Name, testEnv+"-"+testRG+"-"+strings.ToLower(Thumbprint(cert)[:4])))
	})

	t.Run("invalid name", func(t *testing.T) {
		m, fake := newTestManager(t)
		fake.Handle(http.MethodPost, testEnvPath+"/checkNameAvailability", testutil.FakeResponse{
			Body: map[string]any{"nameAvailable": false, "reason": envelope.ReasonInvalid, "message": "bad name"},
		})

		_, err := m.Upload(context.Background(), testEnvironment, UploadOptions{File: path, Name: "BAD"})
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Contains(t, err.Error(), "bad name")
	})
}

func TestDeleteCertificate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires certificate or thumbprint", func(t *testing.T) {
		m, _ := newTestManager(t)
		err := m.Delete(ctx, testEnvironment, DeleteOptions{})
		assert.ErrorIs(t, err, apperrors.ErrRequiredArgumentMissing)
	})

	t.Run("by thumbprint", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedPrivate(fake, "p1", "AAAA", testLocation)
		seedPrivate(fake, "p2", "BBBB", testLocation)

		require.NoError(t, m.Delete(ctx, testEnvironment, DeleteOptions{Thumbprint: "AAAA"}))
		_, ok := fake.Resource(testEnvPath + "/certificates/p1")
		assert.False(t, ok)
		_, ok = fake.Resource(testEnvPath + "/certificates/p2")
		assert.True(t, ok)
	})

	t.Run("ambiguous name", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedPrivate(fake, "dup", "AAAA", testLocation)
		seedManaged(fake, "dup", testHost, "Succeeded")

		err := m.Delete(ctx, testEnvironment, DeleteOptions{Certificate: "dup"})
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Contains(t, err.Error(), testEnvPath+"/managedCertificates/dup")
	})

	t.Run("managed by name", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedManaged(fake, "mc1", testHost, "Succeeded")

		require.NoError(t, m.Delete(ctx, testEnvironment, DeleteOptions{Certificate: "mc1"}))
		_, ok := fake.Resource(testEnvPath + "/managedCertificates/mc1")
		assert.False(t, ok)
	})

	t.Run("missing", func(t *testing.T) {
		m, _ := newTestManager(t)
		err := m.Delete(ctx, testEnvironment, DeleteOptions{Certificate: "nope"})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestCreateManaged(t *testing.T) {
	ctx := context.Background()

	t.Run("name taken by live certificate", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedManaged(fake, "mc1", testHost, "Pending")

		_, err := m.CreateManaged(ctx, testEnvironment, ManagedOptions{Hostname: testHost, ValidationMethod: "cname", Name: "mc1"})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("failed certificate releases name", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedManaged(fake, "mc1", testHost, "Failed")

		out, err := m.CreateManaged(ctx, testEnvironment, ManagedOptions{Hostname: testHost, ValidationMethod: "http", Name: "mc1"})
		require.NoError(t, err)
		assert.Equal(t, envelope.ValidationHTTP, out.Properties.DomainControlValidation)
		assert.Equal(t, testLocation, out.Location)
	})

	t.Run("validation method required", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.CreateManaged(ctx, testEnvironment, ManagedOptions{Hostname: testHost})
		assert.ErrorIs(t, err, apperrors.ErrRequiredArgumentMissing)
	})
}

func TestAddHostname(t *testing.T) {
	m, fake := newTestManager(t)
	seedApp(fake, map[string]any{"name": "api.contoso.com", "bindingType": "SniEnabled"})

	domains, err := m.AddHostname(context.Background(), App{ResourceGroup: testRG, Name: testApp}, "WWW.Contoso.com")
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, envelope.CustomDomain{Name: testHost, BindingType: envelope.BindingDisabled}, domains[1])

	_, err = m.AddHostname(context.Background(), App{ResourceGroup: testRG, Name: testApp}, testHost)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestDeleteHostname(t *testing.T) {
	m, fake := newTestManager(t)
	seedApp(fake, map[string]any{"name": testHost, "bindingType": "Disabled"})
	app := App{ResourceGroup: testRG, Name: testApp}

	domains, err := m.DeleteHostname(context.Background(), app, testHost)
	require.NoError(t, err)
	assert.Empty(t, domains)

	patch, ok := fake.LastRequest(http.MethodPatch, testAppPath)
	require.True(t, ok)
	assert.Contains(t, string(patch.Body), `"customDomains":[]`)

	_, err = m.DeleteHostname(context.Background(), app, testHost)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBindHostname(t *testing.T) {
	ctx := context.Background()
	app := App{ResourceGroup: testRG, Name: testApp}

	t.Run("requires environment or certificate", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.BindHostname(ctx, app, testHost, BindOptions{})
		assert.ErrorIs(t, err, apperrors.ErrRequiredArgumentMissing)
		_, err = m.BindHostname(ctx, app, testHost, BindOptions{Certificate: "p1"})
		assert.ErrorIs(t, err, apperrors.ErrRequiredArgumentMissing)
	})

	t.Run("dns check failure", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedApp(fake)
		fake.Handle(http.MethodPost, testAppPath+"/listCustomHostNameAnalysis", testutil.FakeResponse{
			Body: map[string]any{
				"customDomainVerificationTest":        "Failed",
				"customDomainVerificationFailureInfo": map[string]any{"message": "missing TXT record"},
			},
		})
		_, err := m.BindHostname(ctx, app, testHost, BindOptions{Environment: testEnv, Thumbprint: "AAAA"})
		require.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Contains(t, err.Error(), "missing TXT record")
	})

	t.Run("private certificate by thumbprint", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedApp(fake)
		handleDNS(fake, verificationPassed)
		seedPrivate(fake, "p1", "AAAA", testLocation)

		domains, err := m.BindHostname(ctx, app, testHost, BindOptions{Environment: testEnv, Thumbprint: "AAAA"})
		require.NoError(t, err)
		require.Len(t, domains, 1)
		assert.Equal(t, testEnvPath+"/certificates/p1", domains[0].CertificateID)
		assert.Equal(t, envelope.BindingSniEnabled, domains[0].BindingType)
	})

	t.Run("reuses usable managed certificate", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedApp(fake, map[string]any{"name": testHost, "bindingType": "Disabled"})
		handleDNS(fake, verificationPassed)
		seedManaged(fake, "mc1", testHost, "Succeeded")

		domains, err := m.BindHostname(ctx, app, testHost, BindOptions{Environment: testEnv})
		require.NoError(t, err)
		require.Len(t, domains, 1)
		assert.Equal(t, testEnvPath+"/managedCertificates/mc1", domains[0].CertificateID)
	})

	t.Run("issues managed certificate", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedApp(fake)
		handleDNS(fake, verificationPassed)
		seedManaged(fake, "old", testHost, "Failed")

		domains, err := m.BindHostname(ctx, app, testHost, BindOptions{Environment: testEnv, ValidationMethod: "cname"})
		require.NoError(t, err)
		require.Len(t, domains, 1)
		assert.Contains(t, domains[0].CertificateID, "/managedCertificates/mc-"+testEnv+"-")
	})

	t.Run("wrong environment", func(t *testing.T) {
		m, fake := newTestManager(t)
		seedApp(fake)
		handleDNS(fake, verificationPassed)

		_, err := m.BindHostname(ctx, app, testHost, BindOptions{Certificate: testEnvPath + "/certificates/p1", Environment: "other"})
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
