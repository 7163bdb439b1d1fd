// Package secrets resolves publisher credentials from the environment or
// from GCP Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned when neither an env var nor a secret path
// yields a value.
var ErrNotConfigured = errors.New("credential not configured")

// Fetcher fetches a secret payload by path.
type Fetcher interface {
	FetchSecret(ctx context.Context, secretPath string) (string, error)
	Close() error
}

// SecretManagerClient wraps the GCP Secret Manager client
type SecretManagerClient struct {
	client    *secretmanager.Client
	projectID string
}

// NewSecretManagerClient creates a Secret Manager client. An empty projectID
// is looked up from the environment and then the metadata server.
func NewSecretManagerClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*SecretManagerClient, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	if projectID == "" {
		projectID, err = getProjectID(ctx)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to get project ID: %w", err)
		}
	}

	return &SecretManagerClient{
		client:    client,
		projectID: projectID,
	}, nil
}

func getProjectID(ctx context.Context) (string, error) {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT"} {
		if projectID := os.Getenv(key); projectID != "" {
			return projectID, nil
		}
	}
	return getProjectIDFromMetadata(ctx)
}

func getProjectIDFromMetadata(ctx context.Context) (string, error) {
	const metadataURL = "http://metadata.google.internal/computeMetadata/v1/project/project-id"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch project ID from metadata server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata server returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metadata response: %w", err)
	}
	projectID := strings.TrimSpace(string(body))
	if projectID == "" {
		return "", fmt.Errorf("empty project ID from metadata server")
	}
	return projectID, nil
}

// FetchSecret retrieves a secret. secretPath can be
// projects/P/secrets/S/versions/V, projects/P/secrets/S (latest) or a bare
// secret name in the client's project.
func (c *SecretManagerClient) FetchSecret(ctx context.Context, secretPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := c.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: normalizeSecretPath(c.projectID, secretPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}
	return string(result.Payload.Data), nil
}

func normalizeSecretPath(projectID, secretPath string) string {
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/versions/") {
		return secretPath
	}
	if strings.HasPrefix(secretPath, "projects/") && strings.Contains(secretPath, "/secrets/") {
		return secretPath + "/versions/latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, path.Base(secretPath))
}

// Close closes the Secret Manager client
func (c *SecretManagerClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Resolver looks a credential up in the environment first and falls back to
// a Fetcher.
type Resolver struct {
	fetcher Fetcher
	getenv  func(string) string
}

// NewResolver creates a resolver. fetcher may be nil when no secret paths
// are configured.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher, getenv: os.Getenv}
}

// Resolve returns the value of envName if set, otherwise the secret at
// secretPath.
func (r *Resolver) Resolve(ctx context.Context, envName, secretPath string) (string, error) {
	if envName != "" {
		if v := strings.TrimSpace(r.getenv(envName)); v != "" {
			return v, nil
		}
	}
	if secretPath == "" {
		if envName == "" {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("%w: $%s is empty and no secret path is set", ErrNotConfigured, envName)
	}
	if r.fetcher == nil {
		return "", fmt.Errorf("%w: secret %s requires a secret manager client", ErrNotConfigured, secretPath)
	}
	v, err := r.fetcher.FetchSecret(ctx, secretPath)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: secret %s is empty", ErrNotConfigured, secretPath)
	}
	return v, nil
}

// Close releases the underlying fetcher.
func (r *Resolver) Close() error {
	if r.fetcher != nil {
		return r.fetcher.Close()
	}
	return nil
}
