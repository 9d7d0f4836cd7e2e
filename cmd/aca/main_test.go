package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/clients"
	"github.com/flavioaiello/containerapps/pkg/config"
	"github.com/flavioaiello/containerapps/pkg/lro"
	"github.com/flavioaiello/containerapps/pkg/reconciler"
	"github.com/flavioaiello/containerapps/pkg/testutil"
)

// Test constants to avoid literal duplication.
const (
	testSub     = "00000000-0000-0000-0000-000000000001"
	testRG      = "rg1"
	testApp     = "app1"
	testAppPath = "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/containerApps/" + testApp
)

type testCLI struct {
	c    *cli
	out  *bytes.Buffer
	fake *testutil.FakeARM
}

// newTestCLI returns a cli whose reconciler talks to a fake ARM server.
func newTestCLI(t *testing.T, rg string) *testCLI {
	t.Helper()
	fake := testutil.NewFakeARM(t)
	client := fake.Client(t)
	poller := lro.NewPoller(client, zap.NewNop(), lro.WithClock(testutil.NewFakeClock()))
	rec, err := reconciler.New(reconciler.Deps{
		Clients: clients.New(client, poller, clients.Settings{Endpoint: fake.URL(), SubscriptionID: testSub}, zap.NewNop()),
		Poller:  poller,
	}, zap.NewNop())
	require.NoError(t, err)

	out := &bytes.Buffer{}
	c := newCLI(out, &bytes.Buffer{})
	c.in = strings.NewReader("")
	c.cfg = &config.Config{SubscriptionID: testSub, ResourceGroup: rg, LogLevel: "error"}
	c.rec = rec
	return &testCLI{c: c, out: out, fake: fake}
}

func (tc *testCLI) execute(args ...string) error {
	cmd := newRootCmd(tc.c)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func (tc *testCLI) seedApp() {
	tc.fake.Seed(testAppPath, map[string]any{
		"id":       testAppPath,
		"name":     testApp,
		"location": "westeurope",
		"properties": map[string]any{
			"provisioningState": "Succeeded",
			"environmentId":     "/subscriptions/" + testSub + "/resourceGroups/" + testRG + "/providers/Microsoft.App/managedEnvironments/env1",
		},
	})
}

func TestAppShow(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		tc := newTestCLI(t, testRG)
		tc.seedApp()

		require.NoError(t, tc.execute("app", "show", "-n", testApp))
		assert.Contains(t, tc.out.String(), `"name": "`+testApp+`"`)
	})

	t.Run("yaml", func(t *testing.T) {
		tc := newTestCLI(t, "")
		tc.seedApp()

		require.NoError(t, tc.execute("app", "show", "-g", testRG, "-n", testApp, "-o", "yaml"))
		assert.Contains(t, tc.out.String(), "name: "+testApp)
	})

	t.Run("not found exits with remote failure", func(t *testing.T) {
		tc := newTestCLI(t, testRG)

		err := tc.execute("app", "show", "-n", "missing")
		require.Error(t, err)
		assert.Equal(t, apperrors.ExitRemote, apperrors.ExitCode(err))
	})
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		rg   string
		args []string
	}{
		{"missing required flag", testRG, []string{"app", "show"}},
		{"missing resource group", "", []string{"app", "show", "-n", testApp}},
		{"unknown flag", testRG, []string{"app", "show", "-n", testApp, "--bogus"}},
		{"invalid output", testRG, []string{"app", "show", "-n", testApp, "-o", "xml"}},
		{"unsupported github action", testRG, []string{"app", "github-action"}},
		{"unsupported log streaming", testRG, []string{"env", "logs"}},
		{"delete without confirmation", testRG, []string{"app", "delete", "-n", testApp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCLI(t, tt.rg)
			tc.seedApp()

			err := tc.execute(tt.args...)
			require.Error(t, err)
			assert.Equal(t, apperrors.ExitValidation, apperrors.ExitCode(err))
		})
	}
}

func TestAppDeleteWithYes(t *testing.T) {
	tc := newTestCLI(t, testRG)
	tc.seedApp()

	require.NoError(t, tc.execute("app", "delete", "-n", testApp, "--yes"))
	_, ok := tc.fake.Resource(testAppPath)
	assert.False(t, ok)
	assert.Empty(t, tc.out.String())
}

func TestPrint(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name   string
		output string
		value  any
		want   string
	}{
		{"json", outputJSON, item{Name: "a"}, "{\n  \"name\": \"a\"\n}\n"},
		{"yaml", outputYAML, item{Name: "a"}, "name: a\n"},
		{"nil", outputJSON, nil, ""},
		{"typed nil", outputJSON, (*item)(nil), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			c := newCLI(out, &bytes.Buffer{})
			c.opts.output = tt.output

			require.NoError(t, c.print(tt.value))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestTags(t *testing.T) {
	t.Run("pairs", func(t *testing.T) {
		got, err := tags([]string{"env=prod", "team=", "url=a=b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"env": "prod", "team": "", "url": "a=b"}, got)
	})

	t.Run("nil", func(t *testing.T) {
		got, err := tags(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("empty clears", func(t *testing.T) {
		got, err := tags([]string{})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := tags([]string{"novalue"})
		require.Error(t, err)
		assert.Equal(t, apperrors.ExitValidation, apperrors.ExitCode(err))
	})
}

func TestOptionalFlags(t *testing.T) {
	var (
		count int32
		on    bool
		list  []string
	)
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().Int32Var(&count, "count", 0, "")
	cmd.Flags().BoolVar(&on, "on", false, "")
	cmd.Flags().StringSliceVar(&list, "list", nil, "")

	require.NoError(t, cmd.ParseFlags([]string{"--count", "0", "--list", ""}))

	got := optInt32(cmd, "count", count)
	require.NotNil(t, got)
	assert.Equal(t, int32(0), *got)
	assert.Nil(t, optBool(cmd, "on", on))
	assert.Equal(t, []string{}, optSlice(cmd, "list", list))
}

func TestSDKClientOptions(t *testing.T) {
	assert.Nil(t, sdkClientOptions(""))
	assert.Nil(t, sdkClientOptions("https://management.azure.com/"))

	opts := sdkClientOptions("https://management.usgovcloudapi.net")
	require.NotNil(t, opts)
	assert.NotEmpty(t, opts.Cloud.Services)
}

func TestConfirmWithoutTerminal(t *testing.T) {
	c := newCLI(&bytes.Buffer{}, &bytes.Buffer{})
	c.in = strings.NewReader("y\n")
	assert.False(t, c.confirm("proceed?"))

	c.opts.yes = true
	assert.True(t, c.confirm("proceed?"))
}

func TestAuthProviderCommands(t *testing.T) {
	seed := func(tc *testCLI) {
		tc.fake.Seed(testAppPath, map[string]any{
			"id":   testAppPath,
			"name": testApp,
			"properties": map[string]any{
				"provisioningState": "Succeeded",
				"configuration":     map[string]any{"ingress": map[string]any{"external": true, "targetPort": 80}},
			},
		})
	}

	t.Run("github update", func(t *testing.T) {
		tc := newTestCLI(t, testRG)
		seed(tc)

		require.NoError(t, tc.execute("app", "auth", "github", "update", "-n", testApp, "--client-id", "gh", "--scopes", "user,repo"))
		assert.Contains(t, tc.out.String(), `"clientId": "gh"`)
		assert.Contains(t, tc.out.String(), `"repo"`)
	})

	t.Run("client secret needs confirmation", func(t *testing.T) {
		tc := newTestCLI(t, testRG)
		seed(tc)

		err := tc.execute("app", "auth", "google", "update", "-n", testApp, "--client-secret", "s")
		require.Error(t, err)
		assert.Equal(t, apperrors.ExitValidation, apperrors.ExitCode(err))
	})

	t.Run("unknown openid connect provider", func(t *testing.T) {
		tc := newTestCLI(t, testRG)
		seed(tc)

		err := tc.execute("app", "auth", "openid-connect", "show", "-n", testApp, "--provider-name", "okta")
		require.Error(t, err)
		assert.Equal(t, apperrors.ExitRemote, apperrors.ExitCode(err))
	})
}

func TestAuthority(t *testing.T) {
	assert.Equal(t, reconciler.DefaultAuthority, authority(""))
	assert.Equal(t, reconciler.DefaultAuthority, authority("https://management.azure.com/"))
	assert.Equal(t, "https://login.microsoftonline.us", authority("https://management.usgovcloudapi.net/"))
}
