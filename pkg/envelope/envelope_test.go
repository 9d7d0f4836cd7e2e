package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants to avoid literal duplication.
const (
	testSub    = "00000000-0000-0000-0000-000000000001"
	testRG     = "rg1"
	testEnv    = "env1"
	testApp    = "app1"
	testServer = "myacr.azurecr.io"
)

func TestNullableStates(t *testing.T) {
	type body struct {
		Port Nullable[int32] `json:"port,omitzero"`
	}

	tests := []struct {
		name string
		in   body
		want string
	}{
		{name: "absent is omitted", in: body{}, want: `{}`},
		{name: "null is serialised", in: body{Port: Null[int32]()}, want: `{"port":null}`},
		{name: "value is serialised", in: body{Port: Value[int32](8080)}, want: `{"port":8080}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestNullableUnmarshal(t *testing.T) {
	var b struct {
		A Nullable[string] `json:"a"`
		B Nullable[string] `json:"b"`
		C Nullable[string] `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":null,"b":"x"}`), &b))

	assert.True(t, b.A.IsNull())
	v, ok := b.B.Get()
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	assert.True(t, b.C.IsZero())
	assert.Equal(t, "def", b.C.OrElse("def"))
}

func TestOmitZeroDistinguishesClearFromAbsent(t *testing.T) {
	absent, err := json.Marshal(Configuration{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(absent))

	cleared, err := json.Marshal(Configuration{Secrets: []Secret{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"secrets":[]}`, string(cleared))
}

func TestTrafficWeightZeroIsSerialised(t *testing.T) {
	out, err := json.Marshal(TrafficWeight{RevisionName: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"revisionName":"r1","weight":0}`, string(out))
}

func TestStripReadOnlyIsIdempotent(t *testing.T) {
	app := &ContainerApp{
		ID:         ContainerAppID(testSub, testRG, testApp),
		Name:       testApp,
		Type:       TypeContainerApp,
		Location:   "westeurope",
		SystemData: json.RawMessage(`{"createdBy":"x"}`),
		Identity: &ManagedServiceIdentity{
			Type:        "SystemAssigned,UserAssigned",
			PrincipalID: "p",
			TenantID:    "t",
			UserAssignedIdentities: map[string]*UserAssignedIdentity{
				"/id/one": {PrincipalID: "pp", ClientID: "cc"},
			},
		},
		Properties: &ContainerAppProperties{
			ProvisioningState:    StateSucceeded,
			ManagedEnvironmentID: EnvironmentID(testSub, testRG, testEnv),
			LatestRevisionName:   "app1--abc",
			LatestRevisionFqdn:   "app1--abc.example",
			OutboundIPAddresses:  []string{"1.2.3.4"},
			Configuration: &Configuration{
				Ingress: &Ingress{Fqdn: "app1.example", External: Ptr(true)},
			},
		},
	}

	app.StripReadOnly()
	first, err := json.Marshal(app)
	require.NoError(t, err)

	app.StripReadOnly()
	second, err := json.Marshal(app)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Empty(t, app.ID)
	assert.Empty(t, app.Name)
	assert.Nil(t, app.SystemData)
	assert.Equal(t, "westeurope", app.Location)
	assert.Equal(t, EnvironmentID(testSub, testRG, testEnv), app.Properties.EnvironmentID)
	assert.Empty(t, app.Properties.ManagedEnvironmentID)
	assert.Empty(t, app.Fqdn())
	assert.Equal(t, &UserAssignedIdentity{}, app.Identity.UserAssignedIdentities["/id/one"])
}

func TestRevisionsModeDefaultsToSingle(t *testing.T) {
	app := &ContainerApp{}
	assert.Equal(t, RevisionModeSingle, app.RevisionsMode())

	app.EnsureConfiguration().ActiveRevisionsMode = "Multiple"
	assert.Equal(t, RevisionModeMultiple, app.RevisionsMode())
}

func TestScaleRuleKind(t *testing.T) {
	tests := []struct {
		name    string
		rule    ScaleRule
		want    ScaleRuleKind
		wantErr bool
	}{
		{name: "http", rule: NewScaleRule("r", "http", map[string]string{"concurrentRequests": "10"}, nil), want: ScaleRuleHTTP},
		{name: "tcp", rule: NewScaleRule("r", "TCP", nil, nil), want: ScaleRuleTCP},
		{name: "custom", rule: NewScaleRule("r", "azure-servicebus", nil, nil), want: ScaleRuleCustom},
		{name: "queue", rule: ScaleRule{Name: "q", AzureQueue: &QueueScaleRule{QueueName: "jobs", QueueLength: 5}}, want: ScaleRuleAzureQueue},
		{name: "none", rule: ScaleRule{Name: "r"}, wantErr: true},
		{name: "two", rule: ScaleRule{Name: "r", HTTP: &HTTPScaleRule{}, TCP: &TCPScaleRule{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, err := tt.rule.Kind()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrScaleRuleVariant)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestCustomScaleRuleKeepsType(t *testing.T) {
	rule := NewScaleRule("sb", "azure-servicebus", map[string]string{"queueName": "q"}, []ScaleRuleAuth{{SecretRef: "conn", TriggerParameter: "connection"}})

	require.NotNil(t, rule.Custom)
	assert.Equal(t, "azure-servicebus", rule.Custom.Type)
	assert.Len(t, rule.Auth(), 1)
}

func TestJobTriggerSumType(t *testing.T) {
	cfg := &JobConfiguration{}
	cfg.SetTrigger(&ManualTriggerConfig{Parallelism: Ptr[int32](1)})
	cfg.SetTrigger(&ScheduleTriggerConfig{CronExpression: "*/5 * * * *"})

	trigger, err := cfg.Trigger()
	require.NoError(t, err)
	assert.Equal(t, TriggerSchedule, trigger.TriggerType())
	assert.Equal(t, TriggerSchedule, cfg.TriggerType)
	assert.Nil(t, cfg.ManualTriggerConfig)

	cfg.EventTriggerConfig = &EventTriggerConfig{}
	_, err = cfg.Trigger()
	assert.ErrorIs(t, err, ErrJobTriggerVariant)
}

func TestJobStopRequestBody(t *testing.T) {
	out, err := json.Marshal(JobStopRequest{JobExecutionName: []string{"e1", "e2"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobExecutionName":["e1","e2"]}`, string(out))
}

func TestEnvironmentWorkloadProfiles(t *testing.T) {
	env := &ManagedEnvironment{}
	assert.False(t, env.HasWorkloadProfiles())
	assert.Empty(t, env.DefaultWorkloadProfileName())

	env.EnsureProperties().WorkloadProfiles = []WorkloadProfile{
		{Name: "gpu", WorkloadProfileType: "NC24-A100"},
		{Name: "Consumption", WorkloadProfileType: WorkloadProfileConsumption},
	}
	assert.True(t, env.HasWorkloadProfiles())
	assert.Equal(t, "Consumption", env.DefaultWorkloadProfileName())

	wp, ok := env.WorkloadProfile("GPU")
	assert.True(t, ok)
	assert.Equal(t, "NC24-A100", wp.WorkloadProfileType)
}

func TestEnvironmentLogAnalyticsCustomerID(t *testing.T) {
	env := &ManagedEnvironment{Properties: &ManagedEnvironmentProperties{
		AppLogsConfiguration: Value(AppLogsConfiguration{
			Destination:               LogsLogAnalytics,
			LogAnalyticsConfiguration: &LogAnalyticsConfiguration{CustomerID: "cust"},
		}),
	}}
	assert.Equal(t, "cust", env.LogAnalyticsCustomerID())
}

func TestParseResourceID(t *testing.T) {
	envID := EnvironmentID(testSub, testRG, testEnv)

	rid, err := ParseResourceID(envID)
	require.NoError(t, err)
	assert.Equal(t, testSub, rid.SubscriptionID)
	assert.Equal(t, testRG, rid.ResourceGroup)
	assert.Equal(t, NamespaceApp, rid.Namespace)
	assert.Equal(t, TypeManagedEnvironment, rid.Type)
	assert.Equal(t, testEnv, rid.Name)
	assert.Nil(t, rid.Parent)
	assert.Equal(t, envID, rid.String())

	cert, err := ParseResourceID(CertificateID(envID, "c1"))
	require.NoError(t, err)
	assert.Equal(t, "c1", cert.Name)
	require.NotNil(t, cert.Parent)
	assert.Equal(t, testEnv, cert.Parent.Name)

	_, err = ParseResourceID("not-an-id")
	assert.Error(t, err)
}

func TestIsResourceID(t *testing.T) {
	assert.True(t, IsResourceID(RegistryID(testSub, testRG, "myacr")))
	assert.False(t, IsResourceID(testServer))
	assert.False(t, IsResourceID("myidentity"))
}

func TestManagedCertificateUsable(t *testing.T) {
	for state, want := range map[string]bool{"Succeeded": true, "Pending": true, "Failed": false, "": false} {
		mc := &ManagedCertificate{Properties: &ManagedCertificateProperties{ProvisioningState: state}}
		assert.Equal(t, want, mc.IsUsable(), state)
	}
	assert.False(t, (&ManagedCertificate{}).IsUsable())
}
