// Package testutil provides Azure fakes for tests.
//
// Tests run the real arm pipeline and managers without Azure connectivity:
//   - FakeARM: in-memory Resource Manager over TLS with scripted routes
//   - FakeCredential: azcore.TokenCredential issuing fake bearer tokens
//   - MockGraphClient: Resource Graph registry and environment discovery
//   - FakeClock, BlockingClock: poll clocks for the LRO poller
package testutil
