// Package credential implements the process-wide credential provider §6
// describes as "keyring-like... with an environment fallback" for the
// remote speech service's API key.
package credential

import (
	"errors"
	"os"
)

// ErrCredentialMissing indicates no credential was found by any provider
// in the chain.
var ErrCredentialMissing = errors.New("credential missing")

// Provider resolves a named credential.
type Provider interface {
	Get(name string) (string, error)
}

// EnvProvider resolves credentials from environment variables, the
// fallback tier of the provider chain (§6).
type EnvProvider struct{}

// Get reads name from the environment.
func (EnvProvider) Get(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", ErrCredentialMissing
	}
	return v, nil
}

// ChainProvider tries each Provider in order, returning the first
// successful resolution. Modeled as keyring-first, environment-fallback
// per §6.
type ChainProvider struct {
	providers []Provider
}

// NewChain constructs a ChainProvider trying each provider in order.
func NewChain(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// Get tries each provider in order and returns the first found value.
func (c *ChainProvider) Get(name string) (string, error) {
	for _, p := range c.providers {
		if v, err := p.Get(name); err == nil {
			return v, nil
		}
	}
	return "", ErrCredentialMissing
}
