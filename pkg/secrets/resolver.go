package secrets

import (
	"context"
	"errors"
	"fmt"
)

// ErrSecretNotFound is returned when a resolver has no value for a name.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver resolves a secret name to its value.
type Resolver interface {
	ResolveSecret(ctx context.Context, name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string) (string, error)

func (f ResolverFunc) ResolveSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Static resolves secrets from a fixed map.
type Static map[string]string

func (s Static) ResolveSecret(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
	}
	return v, nil
}

// Chain queries resolvers in order and returns the first value found.
// Resolvers reporting ErrSecretNotFound are skipped; any other error is
// remembered and returned if no resolver has the secret.
type Chain []Resolver

func (c Chain) ResolveSecret(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, r := range c {
		v, err := r.ResolveSecret(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("resolving secret %q: %w", name, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
}
