package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service secrets are stored under.
const DefaultKeyringService = "qlaunch"

// Keyring resolves secrets from the OS keyring. Useful for local
// development where Secret Manager is not reachable.
type Keyring struct {
	Service string
}

func (k Keyring) service() string {
	if k.Service == "" {
		return DefaultKeyringService
	}
	return k.Service
}

func (k Keyring) ResolveSecret(_ context.Context, name string) (string, error) {
	v, err := keyring.Get(k.service(), name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("reading keyring secret %q: %w", name, err)
	}
	return v, nil
}

// Save stores a secret value.
func (k Keyring) Save(name, value string) error {
	return keyring.Set(k.service(), name, value)
}

// Delete removes a secret. Deleting a missing secret is not an error.
func (k Keyring) Delete(name string) error {
	if err := keyring.Delete(k.service(), name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
