package launcher

import (
	"context"
	"fmt"

	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/quatton/qlaunch/pkg/secrets"
	"google.golang.org/api/option"
)

// NewSecretResolver builds the resolver selected by secrets.backend. The
// returned close function releases backend clients and is never nil.
func NewSecretResolver(ctx context.Context, cfg *Config, opts ...option.ClientOption) (secrets.Resolver, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Secrets.Backend {
	case SecretsBackendStatic:
		return secrets.Static(cfg.Secrets.Values), noop, nil
	case SecretsBackendKeyring:
		return secrets.Keyring{Service: cfg.Secrets.KeyringService}, noop, nil
	case "", SecretsBackendSecretManager:
		project := cfg.SecretsProject()
		if project == "" {
			return nil, noop, qerr.Newf(qerr.CodeConfig, "secrets.project or project is required for the secretmanager backend")
		}
		sm, err := secrets.NewSecretManager(ctx, project, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("creating secret manager client: %w", err)
		}
		return sm, sm.Close, nil
	}
	return nil, noop, qerr.Newf(qerr.CodeConfig, "unknown secrets backend %q", cfg.Secrets.Backend)
}
