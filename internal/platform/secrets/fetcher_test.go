package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/commerce_api_key/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	require.NoError(t, err)
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://commerce_api_key")
		require.NoError(t, err)
		require.Equal(t, "remote-secret", got)
	}
	require.Equal(t, 1, client.callCount(resource))

	fetcher.Invalidate("secret://commerce_api_key")
	_, err = fetcher.Resolve(ctx, "secret://commerce_api_key")
	require.NoError(t, err)
	require.Equal(t, 2, client.callCount(resource))
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("# local\nsm://session_hash=local-secret\n"), 0o600))

	client := newFakeSecretClient()
	client.errors["projects/shop/secrets/session_hash/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(path))
	require.NoError(t, err)

	got, err := fetcher.ResolveSecret(ctx, "secret://session_hash")
	require.NoError(t, err)
	require.Equal(t, "local-secret", got)
}

func TestResolvePropagatesNonFallbackErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/shop/secrets/smtp/versions/3"] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	require.NoError(t, err)

	_, err = fetcher.Resolve(ctx, "secret://smtp?version=3")
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(errorsUnwrapAll(err)))
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	require.NoError(t, os.WriteFile(path, []byte("secret://mail_password=hunter2\n"), 0o600))

	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(path))
	require.NoError(t, err)
	require.Nil(t, fetcher.client)

	got, err := fetcher.Resolve(context.Background(), "secret://mail_password")
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)

	_, err = fetcher.Resolve(context.Background(), "secret://unknown")
	require.Error(t, err)
}

func TestParseReferenceRejectsOtherSchemes(t *testing.T) {
	_, err := parseReference("https://example.com/secret")
	require.Error(t, err)
	_, err = parseReference("secret://")
	require.Error(t, err)

	ref, err := parseReference("secret://name?version=5&project=other")
	require.NoError(t, err)
	require.Equal(t, "secret://name", ref.Canonical)
	require.Equal(t, "5", ref.Version)
	require.Equal(t, "other", ref.ProjectOverride)
}

func errorsUnwrapAll(err error) error {
	for {
		next, ok := err.(interface{ Unwrap() error })
		if !ok || next.Unwrap() == nil {
			return err
		}
		err = next.Unwrap()
	}
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(c.values[req.GetName()])},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}
