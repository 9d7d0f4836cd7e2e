// Package integration holds live tests against Azure Resource Manager.
//
// These tests require Azure credentials and only read state. They are
// excluded from normal test runs via build tags.
//
// To run integration tests:
//
//	export AZURE_SUBSCRIPTION_ID=your-subscription-id
//	go test -tags=integration -v ./pkg/integration/...
//
// Authentication follows pkg/auth: AZURE_CLIENT_ID selects a user-assigned
// managed identity, otherwise the default credential chain is used.
package integration
