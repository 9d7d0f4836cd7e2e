package merge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Test constants to avoid literal duplication.
const (
	testEnvID    = "/subscriptions/s/resourceGroups/rg/providers/Microsoft.App/managedEnvironments/env"
	testServer   = "r.azurecr.io"
	testUser     = "U"
	testPassword = "p@ss"
	testApp      = "app1"
)

func TestNormalizeAppDocument(t *testing.T) {
	doc := map[string]any{
		"name":                 "app",
		"managedEnvironmentId": testEnvID,
		"configuration":        map[string]any{"activeRevisionsMode": "Single"},
		"template":             map[string]any{"containers": []any{map[string]any{"name": "c", "image": "i"}}},
		"identity": map[string]any{
			"type": "UserAssigned",
			"userAssignedIdentities": map[string]any{
				"/id/1": map[string]any{"principalId": "p", "clientId": "c"},
			},
		},
	}

	got, err := NormalizeAppDocument(doc)
	require.NoError(t, err)

	props := got["properties"].(map[string]any)
	assert.Equal(t, testEnvID, props["environmentId"])
	assert.NotContains(t, props, "managedEnvironmentId")
	assert.Contains(t, props, "configuration")
	assert.Contains(t, props, "template")
	assert.NotContains(t, got, "configuration")
	assert.Equal(t, map[string]any{}, got["identity"].(map[string]any)["userAssignedIdentities"].(map[string]any)["/id/1"])
}

func TestNormalizeRejectsNonObject(t *testing.T) {
	_, err := NormalizeAppDocument([]any{"x"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStripReadOnlyIdempotent(t *testing.T) {
	doc := map[string]any{
		"id":         "x",
		"systemData": map[string]any{"a": 1},
		"location":   "westeurope",
		"properties": map[string]any{
			"provisioningState":  "Succeeded",
			"latestRevisionName": "r1",
			"configuration":      map[string]any{"ingress": map[string]any{"fqdn": "f", "targetPort": 80}},
		},
	}
	StripReadOnly(doc)
	once, _ := json.Marshal(doc)
	StripReadOnly(doc)
	twice, _ := json.Marshal(doc)

	assert.JSONEq(t, string(once), string(twice))
	assert.Equal(t, "westeurope", doc["location"])
	assert.NotContains(t, doc, "id")
	props := doc["properties"].(map[string]any)
	assert.NotContains(t, props, "provisioningState")
	assert.NotContains(t, lookupMap(doc, "properties", "configuration", "ingress"), "fqdn")
}

func TestStripAdditionalProperties(t *testing.T) {
	doc := map[string]any{
		"additionalProperties": map[string]any{},
		"properties": map[string]any{
			"template": map[string]any{
				"containers": []any{map[string]any{"name": "c", "additionalProperties": map[string]any{"x": 1}}},
			},
		},
	}
	StripAdditionalProperties(doc)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "additionalProperties")
}

func TestNullPrune(t *testing.T) {
	doc := map[string]any{
		"keep":   "v",
		"nil":    nil,
		"empty":  map[string]any{},
		"list":   []any{},
		"nested": map[string]any{"a": nil, "b": map[string]any{"c": nil}},
		"items":  []any{nil, map[string]any{}, "x", map[string]any{"y": 1}},
		"clear":  Clear,
		"zero":   0,
		"false":  false,
	}

	once := NullPrune(doc)
	twice := NullPrune(once)
	assert.Equal(t, once, twice)

	data, err := json.Marshal(once)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keep":"v","items":["x",{"y":1}],"clear":null,"zero":0,"false":false}`, string(data))
}

func TestDocumentRoundTripIsFixedPoint(t *testing.T) {
	doc := map[string]any{
		"location": "westeurope",
		"properties": map[string]any{
			"environmentId": testEnvID,
			"configuration": map[string]any{
				"secrets": []any{map[string]any{"name": "s", "value": "v"}},
				"ingress": map[string]any{"external": true, "targetPort": float64(80)},
			},
			"template": map[string]any{
				"containers": []any{map[string]any{"name": "c", "image": "i"}},
			},
		},
	}

	app, err := Decode[envelope.ContainerApp](PruneDocument(doc))
	require.NoError(t, err)
	back, err := Encode(app)
	require.NoError(t, err)
	again, err := Decode[envelope.ContainerApp](PruneDocument(back))
	require.NoError(t, err)

	assert.Equal(t, app, again)
	assert.Equal(t, PruneDocument(doc), PruneDocument(back))
}

func TestCheckType(t *testing.T) {
	assert.NoError(t, CheckType(map[string]any{}, envelope.TypeContainerApp))
	assert.NoError(t, CheckType(map[string]any{"type": "microsoft.app/containerapps"}, envelope.TypeContainerApp))
	assert.ErrorIs(t, CheckType(map[string]any{"type": "Microsoft.Web/sites"}, envelope.TypeContainerApp), apperrors.ErrValidation)
}

func TestPrepareAppPatchPopulatesSecrets(t *testing.T) {
	doc := map[string]any{
		"id":   "x",
		"name": testApp,
		"properties": map[string]any{
			"provisioningState": "Succeeded",
			"configuration": map[string]any{
				"secrets": []any{
					map[string]any{"name": "a"},
					map[string]any{"name": "b", "value": "given"},
				},
			},
		},
	}

	app, err := PrepareAppPatch(doc, []envelope.ContainerAppSecret{{Name: "a", Value: "fromRemote"}, {Name: "b", Value: "old"}})
	require.NoError(t, err)

	assert.Empty(t, app.ID)
	assert.Empty(t, app.ProvisioningState())
	secrets := app.Properties.Configuration.Secrets
	require.Len(t, secrets, 2)
	assert.Equal(t, "fromRemote", secrets[0].Value)
	assert.Equal(t, "given", secrets[1].Value)
}

func TestRegistryWithPassword(t *testing.T) {
	reg, secret := RegistryWithPassword(testServer, testUser, testPassword)

	assert.Equal(t, "razurecrio-u", secret.Name)
	assert.Equal(t, testPassword, secret.Value)
	assert.Equal(t, secret.Name, reg.PasswordSecretRef)
	assert.Equal(t, testServer, reg.Server)
	assert.Equal(t, testUser, reg.Username)
	assert.Empty(t, reg.Identity)
}

func TestRegistrySecretNameWithPort(t *testing.T) {
	assert.Equal(t, "myregio-5000-admin", RegistrySecretName("myreg.io:5000", "Admin"))
}

func TestStorePassword(t *testing.T) {
	tests := []struct {
		name       string
		secrets    []envelope.Secret
		password   string
		update     bool
		wantName   string
		wantAdded  bool
		wantErr    bool
		wantValues []string
	}{
		{
			name:       "new literal",
			password:   testPassword,
			wantName:   "razurecrio-u",
			wantAdded:  true,
			wantValues: []string{testPassword},
		},
		{
			name:       "existing equal",
			secrets:    []envelope.Secret{{Name: "razurecrio-u", Value: testPassword}},
			password:   testPassword,
			wantName:   "razurecrio-u",
			wantValues: []string{testPassword},
		},
		{
			name:     "existing different without update",
			secrets:  []envelope.Secret{{Name: "razurecrio-u", Value: "other"}},
			password: testPassword,
			wantErr:  true,
		},
		{
			name:       "existing different with update",
			secrets:    []envelope.Secret{{Name: "razurecrio-u", Value: "other"}},
			password:   testPassword,
			update:     true,
			wantName:   "razurecrio-u",
			wantValues: []string{testPassword},
		},
		{
			name:     "case change without update",
			secrets:  []envelope.Secret{{Name: "razurecrio-u", Value: strings.ToUpper(testPassword)}},
			password: testPassword,
			wantErr:  true,
		},
		{
			name:       "case change with update",
			secrets:    []envelope.Secret{{Name: "razurecrio-u", Value: strings.ToUpper(testPassword)}},
			password:   testPassword,
			update:     true,
			wantName:   "razurecrio-u",
			wantValues: []string{testPassword},
		},
		{
			name:       "secretref",
			secrets:    []envelope.Secret{{Name: "mine", Value: "x"}},
			password:   "secretref:mine",
			wantName:   "mine",
			wantValues: []string{"x"},
		},
		{
			name:     "secretref missing",
			password: "secretref:nope",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, name, added, err := StorePassword(tt.secrets, testServer, testUser, tt.password, tt.update)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantAdded, added)
			var values []string
			for _, s := range out {
				values = append(values, s.Value)
			}
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestRemoveRegistryRemovesCoupledSecret(t *testing.T) {
	reg, secret := RegistryWithPassword(testServer, testUser, testPassword)
	registries := []envelope.RegistryCredentials{reg, RegistryWithIdentity("other.azurecr.io", RegistryIdentitySystem)}
	secrets := []envelope.Secret{secret, {Name: "unrelated", Value: "v"}}

	registries, secrets, found := RemoveRegistry(registries, secrets, "R.AZURECR.IO")

	assert.True(t, found)
	require.Len(t, registries, 1)
	assert.Equal(t, "other.azurecr.io", registries[0].Server)
	require.Len(t, secrets, 1)
	assert.Equal(t, "unrelated", secrets[0].Name)

	_, _, found = RemoveRegistry(registries, secrets, testServer)
	assert.False(t, found)
}

func TestParseSecrets(t *testing.T) {
	secrets, err := ParseSecrets([]string{"a=b=c", "kv=keyvaultref:https://v/secrets/x,identityref:/id/1"})
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, envelope.Secret{Name: "a", Value: "b=c"}, secrets[0])
	assert.Equal(t, envelope.Secret{Name: "kv", KeyVaultURL: "https://v/secrets/x", Identity: "/id/1"}, secrets[1])

	for _, bad := range [][]string{{"novalue"}, {"a=1", "a=2"}, {"k=keyvaultref:u"}, {"k=identityref:i"}} {
		_, err := ParseSecrets(bad)
		assert.ErrorIs(t, err, apperrors.ErrValidation, bad)
	}
}

func TestSetAndRemoveSecrets(t *testing.T) {
	secrets := []envelope.Secret{{Name: "a", Value: "1"}, {Name: "b", KeyVaultURL: "u", Identity: "i"}}
	secrets = SetSecrets(secrets, []envelope.Secret{{Name: "B", Value: "2"}, {Name: "c", Value: "3"}})

	require.Len(t, secrets, 3)
	assert.Equal(t, envelope.Secret{Name: "B", Value: "2"}, secrets[1])

	secrets, missing := RemoveSecrets(secrets, []string{"a", "zzz"})
	assert.Equal(t, []string{"zzz"}, missing)
	assert.Len(t, secrets, 2)
}

func TestUnreferencedSecretRefs(t *testing.T) {
	containers := []envelope.Container{{Env: []envelope.EnvironmentVar{{Name: "A", SecretRef: "s1"}, {Name: "B", SecretRef: "s2"}}}}
	assert.Equal(t, []string{"s2"}, UnreferencedSecretRefs(containers, []envelope.Secret{{Name: "S1"}}))
}

func TestParseEnvVars(t *testing.T) {
	vars, err := ParseEnvVars([]string{"A=1", "B=secretref:s", "C="})
	require.NoError(t, err)
	require.Len(t, vars, 3)
	assert.Equal(t, "1", *vars[0].Value)
	assert.Equal(t, "s", vars[1].SecretRef)
	assert.Nil(t, vars[1].Value)
	assert.Equal(t, "", *vars[2].Value)

	_, err = ParseEnvVars([]string{"A=1", "A=2"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = ParseEnvVars([]string{"A"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestEnvPatchApply(t *testing.T) {
	existing := func() []envelope.EnvironmentVar {
		return []envelope.EnvironmentVar{
			{Name: "A", Value: envelope.Ptr("1")},
			{Name: "B", SecretRef: "s"},
		}
	}

	tests := []struct {
		name        string
		patch       EnvPatch
		wantNames   []string
		wantMissing []string
	}{
		{name: "set upserts", patch: EnvPatch{Set: []string{"b=2", "C=3"}}, wantNames: []string{"A", "b", "C"}},
		{name: "replace", patch: EnvPatch{Replace: []string{"Z=1"}}, wantNames: []string{"Z"}},
		{name: "remove", patch: EnvPatch{Remove: []string{"a", "missing"}}, wantNames: []string{"B"}, wantMissing: []string{"missing"}},
		{name: "remove all", patch: EnvPatch{RemoveAll: true}, wantNames: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, missing, err := tt.patch.Apply(existing())
			require.NoError(t, err)
			names := []string{}
			for _, e := range env {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantMissing, missing)
		})
	}
}

func TestSetEnvVarsSwitchesLiteralToSecretRef(t *testing.T) {
	env := SetEnvVars([]envelope.EnvironmentVar{{Name: "A", Value: envelope.Ptr("1")}}, []envelope.EnvironmentVar{{Name: "A", SecretRef: "s"}})

	require.Len(t, env, 1)
	assert.Nil(t, env[0].Value)
	assert.Equal(t, "s", env[0].SecretRef)
}

func TestContainerPatchApply(t *testing.T) {
	t.Run("single container by default", func(t *testing.T) {
		containers := []envelope.Container{{Name: "main", Image: "old"}}
		out, _, _, err := ContainerPatch{Image: "new", Command: []string{}}.Apply(containers, nil)
		require.NoError(t, err)
		assert.Equal(t, "new", out[0].Image)
		assert.NotNil(t, out[0].Command)
		assert.Empty(t, out[0].Command)
	})

	t.Run("name required with several containers", func(t *testing.T) {
		containers := []envelope.Container{{Name: "a"}, {Name: "b"}}
		_, _, _, err := ContainerPatch{Image: "x"}.Apply(containers, nil)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("new container needs image", func(t *testing.T) {
		_, _, _, err := ContainerPatch{Name: "side"}.Apply([]envelope.Container{{Name: "main"}}, nil)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("new container appended", func(t *testing.T) {
		out, _, _, err := ContainerPatch{Name: "side", Image: "i", CPU: envelope.Ptr(0.5), Memory: "1.0Gi"}.Apply([]envelope.Container{{Name: "main"}}, nil)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, 0.5, *out[1].Resources.CPU)
		assert.Equal(t, "1.0Gi", out[1].Resources.Memory)
	})

	t.Run("secret volume mount", func(t *testing.T) {
		out, volumes, _, err := ContainerPatch{SecretVolumeMount: envelope.Ptr("/mnt/secrets")}.Apply([]envelope.Container{{Name: "main"}}, nil)
		require.NoError(t, err)
		require.Len(t, volumes, 1)
		assert.Equal(t, envelope.StorageTypeSecret, volumes[0].StorageType)
		assert.Regexp(t, `^secret-volume-[a-z0-9]{4}$`, volumes[0].Name)
		assert.Equal(t, volumes[0].Name, out[0].VolumeMounts[0].VolumeName)
		assert.Empty(t, UnresolvedVolumeMounts(out, volumes))

		out, volumes, _, err = ContainerPatch{SecretVolumeMount: envelope.Ptr("/other")}.Apply(out, volumes)
		require.NoError(t, err)
		assert.Len(t, volumes, 1)
		assert.Equal(t, "/other", out[0].VolumeMounts[0].MountPath)
	})

	t.Run("secret volume mount over file volume", func(t *testing.T) {
		containers := []envelope.Container{{Name: "main", VolumeMounts: []envelope.VolumeMount{{VolumeName: "files", MountPath: "/f"}}}}
		volumes := []envelope.Volume{{Name: "files", StorageType: envelope.StorageTypeAzureFile}}
		_, _, _, err := ContainerPatch{SecretVolumeMount: envelope.Ptr("/s")}.Apply(containers, volumes)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestScaleRulePatchBuild(t *testing.T) {
	tests := []struct {
		name  string
		patch ScaleRulePatch
		kind  envelope.ScaleRuleKind
		meta  map[string]string
	}{
		{name: "default http", patch: ScaleRulePatch{Name: "r", Concurrency: envelope.Ptr(10)}, kind: envelope.ScaleRuleHTTP, meta: map[string]string{"concurrentRequests": "10"}},
		{name: "tcp", patch: ScaleRulePatch{Name: "r", Type: "TCP", Concurrency: envelope.Ptr(5)}, kind: envelope.ScaleRuleTCP, meta: map[string]string{"concurrentConnections": "5"}},
		{name: "custom", patch: ScaleRulePatch{Name: "r", Type: "azure-servicebus", Metadata: []string{"queueName=q"}}, kind: envelope.ScaleRuleCustom, meta: map[string]string{"queueName": "q"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := tt.patch.Build()
			require.NoError(t, err)
			kind, err := rule.Kind()
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			switch kind {
			case envelope.ScaleRuleHTTP:
				assert.Equal(t, tt.meta, rule.HTTP.Metadata)
			case envelope.ScaleRuleTCP:
				assert.Equal(t, tt.meta, rule.TCP.Metadata)
			case envelope.ScaleRuleCustom:
				assert.Equal(t, tt.meta, rule.Custom.Metadata)
			}
		})
	}

	_, err := ScaleRulePatch{Name: "r", Auth: []string{"a=b", "a=c"}}.Build()
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestScalePatchUpsertsRule(t *testing.T) {
	scale := &envelope.Scale{Rules: []envelope.ScaleRule{envelope.NewScaleRule("r", "http", nil, nil), envelope.NewScaleRule("q", "tcp", nil, nil)}}
	out, err := ScalePatch{MaxReplicas: envelope.Ptr(int32(3)), Rule: &ScaleRulePatch{Name: "R", Type: "tcp"}}.Apply(scale)
	require.NoError(t, err)

	assert.Equal(t, int32(3), *out.MaxReplicas)
	require.Len(t, out.Rules, 2)
	assert.NotNil(t, out.Rules[0].TCP)
}

func TestRevisionSuffix(t *testing.T) {
	assert.True(t, RevisionSuffix(nil).IsNull())
	v, ok := RevisionSuffix(envelope.Ptr("v2")).Get()
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestCopyRevisionTemplate(t *testing.T) {
	rev := &envelope.Revision{Properties: &envelope.RevisionProperties{Template: &envelope.Template{
		Containers: []envelope.Container{{Name: "c", Env: []envelope.EnvironmentVar{{Name: "A", SecretRef: testApp + "-db"}}}},
	}}}

	tpl, err := CopyRevisionTemplate(rev, testApp)
	require.NoError(t, err)
	assert.Equal(t, "db", tpl.Containers[0].Env[0].SecretRef)
	assert.Equal(t, testApp+"-db", rev.Properties.Template.Containers[0].Env[0].SecretRef)

	_, err = CopyRevisionTemplate(&envelope.Revision{}, testApp)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCustomDomainsKeyedByLowercaseHost(t *testing.T) {
	domains := SetCustomDomain(nil, envelope.CustomDomain{Name: "WWW.Example.com", BindingType: envelope.BindingDisabled})
	domains = SetCustomDomain(domains, envelope.CustomDomain{Name: "www.example.com", BindingType: envelope.BindingSniEnabled, CertificateID: "c"})

	require.Len(t, domains, 1)
	assert.Equal(t, "www.example.com", domains[0].Name)
	assert.Equal(t, envelope.BindingSniEnabled, domains[0].BindingType)

	domains, found := RemoveCustomDomain(domains, "WWW.EXAMPLE.COM")
	assert.True(t, found)
	assert.Empty(t, domains)
}

func TestIPRestrictionUpsert(t *testing.T) {
	rules := SetIPRestriction(nil, envelope.IPSecurityRestrictionRule{Name: "office", IPAddressRange: "10.0.0.0/8", Action: envelope.ActionAllow})
	rules = SetIPRestriction(rules, envelope.IPSecurityRestrictionRule{Name: "Office", IPAddressRange: "10.1.0.0/16", Action: envelope.ActionAllow})

	require.Len(t, rules, 1)
	assert.Equal(t, "10.1.0.0/16", rules[0].IPAddressRange)

	_, found := RemoveIPRestriction(rules, "home")
	assert.False(t, found)
}

func TestMergeTags(t *testing.T) {
	assert.Nil(t, MergeTags(nil, nil))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, MergeTags(map[string]string{"a": "0"}, map[string]string{"a": "1", "b": "2"}))
}
