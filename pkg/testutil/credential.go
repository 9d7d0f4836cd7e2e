package testutil

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// FakeCredential issues numbered bearer tokens without contacting Entra ID
// and records the scopes of every request, so tests can check the audience
// the arm pipeline asks for.
// Thread-safe.
type FakeCredential struct {
	mu     sync.Mutex
	scopes [][]string
	err    error
}

// NewFakeCredential creates a credential that always succeeds.
func NewFakeCredential() *FakeCredential {
	return &FakeCredential{}
}

// Fail makes later GetToken calls return err; nil restores success.
func (c *FakeCredential) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Scopes returns the requested scopes, one entry per GetToken call.
func (c *FakeCredential) Scopes() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.scopes)
}

// GetToken implements azcore.TokenCredential.
func (c *FakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return azcore.AccessToken{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes = append(c.scopes, slices.Clone(opts.Scopes))
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{
		Token:     "fake-token-" + strconv.Itoa(len(c.scopes)),
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

var _ azcore.TokenCredential = (*FakeCredential)(nil)
