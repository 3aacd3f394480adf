package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSConfig configures a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket   string
	Project  string
	Location string
	// CredentialsFile is a service account JSON key. Empty uses the
	// application default credentials.
	CredentialsFile string
	// Endpoint overrides the JSON API base URL, e.g. for an emulator.
	// Requests are sent unauthenticated when it is set without credentials.
	Endpoint string
}

// NewGCSService builds a Cloud Storage JSON API client.
func NewGCSService(ctx context.Context, cfg GCSConfig) (*storage.Service, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dataset: create gcs client: %w", err)
	}
	return svc, nil
}

// GCSStore reads dataset objects from one Cloud Storage bucket.
type GCSStore struct {
	svc      *storage.Service
	bucket   string
	project  string
	location string
}

// NewGCS returns a store over bucket. project and location are only used
// when the bucket has to be created.
func NewGCS(svc *storage.Service, bucket, project, location string) *GCSStore {
	if location == "" {
		location = "US"
	}
	return &GCSStore{svc: svc, bucket: bucket, project: project, location: location}
}

// EnsureBucket lists the project's buckets and creates the dataset bucket
// when it is not among them.
func (g *GCSStore) EnsureBucket(ctx context.Context) error {
	found := false
	err := g.svc.Buckets.List(g.project).Prefix(g.bucket).Pages(ctx, func(page *storage.Buckets) error {
		for _, b := range page.Items {
			if b.Name == g.bucket {
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dataset: list buckets: %w", err)
	}
	if found {
		return nil
	}

	_, err = g.svc.Buckets.Insert(g.project, &storage.Bucket{Name: g.bucket, Location: g.location}).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("dataset: create bucket %s: %w", g.bucket, err)
	}
	return nil
}

func (g *GCSStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := g.svc.Objects.Get(g.bucket, key).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("dataset: read %s: %w", key, os.ErrNotExist)
		}
		return nil, err
	}
	return resp.Body, nil
}

var _ ObjectStore = (*GCSStore)(nil)
