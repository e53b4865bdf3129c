package secrets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStatic(t *testing.T) {
	s := Static{"db": "hunter2"}

	v, err := s.ResolveSecret(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = s.ResolveSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("backend down")
	failing := ResolverFunc(func(context.Context, string) (string, error) { return "", boom })

	c := Chain{Static{}, Static{"a": "from-second"}}
	v, err := c.ResolveSecret(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "from-second", v)

	_, err = c.ResolveSecret(ctx, "b")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = Chain{failing, Static{}}.ResolveSecret(ctx, "b")
	assert.ErrorIs(t, err, boom)

	v, err = Chain{failing, Static{"b": "ok"}}.ResolveSecret(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

type fakeAccessor struct {
	values   map[string]string
	err      error
	requests []string
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.requests = append(f.requests, req.GetName())
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(v)},
	}, nil
}

func TestSecretManager(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAccessor{values: map[string]string{
		"projects/p1/secrets/region/versions/latest": "europe-west1",
	}}
	sm := &SecretManager{project: "p1", client: fake}

	v, err := sm.ResolveSecret(ctx, "region")
	require.NoError(t, err)
	assert.Equal(t, "europe-west1", v)

	_, err = sm.ResolveSecret(ctx, "other")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	fake.err = status.Error(codes.PermissionDenied, "denied")
	_, err = sm.ResolveSecret(ctx, "region")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)

	assert.Equal(t, []string{
		"projects/p1/secrets/region/versions/latest",
		"projects/p1/secrets/other/versions/latest",
		"projects/p1/secrets/region/versions/latest",
	}, fake.requests)
	assert.NoError(t, sm.Close())
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	k := Keyring{}

	_, err := k.ResolveSecret(context.Background(), "project")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, k.Save("project", "test_gcp-123"))
	v, err := k.ResolveSecret(context.Background(), "project")
	require.NoError(t, err)
	assert.Equal(t, "test_gcp-123", v)

	require.NoError(t, k.Delete("project"))
	require.NoError(t, k.Delete("project"))
}
