package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretManager resolves secrets from Google Secret Manager, always reading
// the latest version.
type SecretManager struct {
	project string
	client  secretAccessor
	closer  func() error
}

// NewSecretManager creates a Secret Manager backed resolver for project.
func NewSecretManager(ctx context.Context, project string, opts ...option.ClientOption) (*SecretManager, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	return &SecretManager{project: project, client: client, closer: client.Close}, nil
}

// VersionName returns the resource name of the latest version of a secret.
func (s *SecretManager) VersionName(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.project, name)
}

func (s *SecretManager) ResolveSecret(ctx context.Context, name string) (string, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.VersionName(name),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %q", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("accessing secret %q: %w", name, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (s *SecretManager) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
