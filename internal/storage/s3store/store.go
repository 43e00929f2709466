// Package s3store publishes objects to an S3-compatible bucket such as Cloudflare R2.
package s3store

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"giftforge/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds bucket connection settings.
type Config struct {
	Endpoint        string // host[:port], no scheme
	AccountID       string // R2 account; derives Endpoint when Endpoint is empty
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	Region          string
	Insecure        bool
}

// LoadConfigFromEnv loads bucket configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Endpoint:        config.GetEnv("R2_ENDPOINT", ""),
		AccountID:       config.GetEnv("R2_ACCOUNT_ID", ""),
		AccessKeyID:     config.GetEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: config.GetSecretFile(config.GetEnv("R2_SECRET_ACCESS_KEY_FILE", "")),
		Bucket:          config.GetEnv("R2_BUCKET_NAME", ""),
		PublicURL:       config.GetEnv("R2_PUBLIC_URL", ""),
		Region:          config.GetEnv("R2_REGION", "auto"),
		Insecure:        config.GetEnv("R2_INSECURE", "") == "true",
	}
}

// endpoint returns the bucket host, deriving the R2 host from the account id.
func (c Config) endpoint() (string, error) {
	ep := c.Endpoint
	if ep == "" && c.AccountID != "" {
		ep = c.AccountID + ".r2.cloudflarestorage.com"
	}
	if ep == "" {
		return "", fmt.Errorf("s3store: endpoint or account id is required")
	}
	// Accept a full URL for convenience.
	if strings.Contains(ep, "://") {
		u, err := url.Parse(ep)
		if err != nil {
			return "", fmt.Errorf("s3store: invalid endpoint: %w", err)
		}
		ep = u.Host
	}
	return ep, nil
}

// Store writes objects to a bucket and builds URLs from a public base.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New creates a bucket store.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket name is required")
	}
	if cfg.PublicURL == "" {
		return nil, fmt.Errorf("s3store: public URL is required")
	}
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: !cfg.Insecure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: failed to create client: %w", err)
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Put uploads r as object name. An existing object is replaced.
func (s *Store) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// URL returns {public-base}/{name}.
func (s *Store) URL(name string) string {
	return s.publicURL + "/" + name
}

// Ping checks that the bucket exists and the credentials can see it.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}
