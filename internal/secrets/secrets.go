// Package secrets stores provider API keys in the OS keychain with an
// environment-variable fallback, so credentials stay out of config files.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "tokenpress"

// knownProviders is the list of providers checked by List().
var knownProviders = []string{"openai", "anthropic", "embedding", "dashboard"}

// Vault provides secure API key storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

func envVarFor(provider string) string {
	return "TOKENPRESS_KEY_" + strings.ToUpper(provider)
}

// Set stores an API key for the given provider in the OS keychain.
func (v *Vault) Set(provider, key string) error {
	return keyring.Set(serviceName, provider, key)
}

// Get retrieves the API key for the given provider. It first checks the
// OS keychain, then falls back to the environment variable
// TOKENPRESS_KEY_{UPPER(provider)}.
func (v *Vault) Get(provider string) (string, error) {
	secret, err := keyring.Get(serviceName, provider)
	if err == nil && secret != "" {
		return secret, nil
	}

	if val := os.Getenv(envVarFor(provider)); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no key found for provider %q: not in keychain and %s not set", provider, envVarFor(provider))
}

// Delete removes the API key for the given provider from the OS keychain.
func (v *Vault) Delete(provider string) error {
	return keyring.Delete(serviceName, provider)
}

// List returns the names of known providers that currently have keys stored,
// checking both the keychain and environment variables.
func (v *Vault) List() ([]string, error) {
	var providers []string

	for _, provider := range knownProviders {
		secret, err := keyring.Get(serviceName, provider)
		if err == nil && secret != "" {
			providers = append(providers, provider)
			continue
		}
		if val := os.Getenv(envVarFor(provider)); val != "" {
			providers = append(providers, provider)
		}
	}

	return providers, nil
}

// Resolve parses a key reference and retrieves the corresponding API key.
// Supported formats:
//   - "keyring://tokenpress/<provider>"
//   - "env:VARIABLE_NAME"
//   - "file:///path/to/key"
//
// Any other value is treated as a literal key and returned unchanged, so
// plain keys in config keep working.
func (v *Vault) Resolve(keyRef string) (string, error) {
	switch {
	case strings.HasPrefix(keyRef, "keyring://"):
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference %q (expected \"keyring://tokenpress/<provider>\")", keyRef)
		}
		return v.Get(parts[1])

	case strings.HasPrefix(keyRef, "env:"):
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)

	case strings.HasPrefix(keyRef, "file://"):
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return keyRef, nil
}
