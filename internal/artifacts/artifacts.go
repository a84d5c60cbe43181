// Package artifacts uploads run artifacts to S3-compatible object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
)

// Config selects the object store. An empty Endpoint disables uploads.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Validate checks that an enabled store is fully configured.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var missing []string
	if c.AccessKey == "" {
		missing = append(missing, "access key")
	}
	if c.SecretKey == "" {
		missing = append(missing, "secret key")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("artifact store %s: missing %s", c.Endpoint, strings.Join(missing, ", "))
	}
	if strings.Contains(c.Endpoint, "/") {
		return errors.New("artifact store endpoint must be host[:port]")
	}
	return nil
}

// Uploader stores files in one bucket.
type Uploader struct {
	client *minio.Client
	cfg    Config
}

var _ backend.ArtifactSink = (*Uploader)(nil)

// New connects to the store and creates the bucket when missing.
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Uploader{client: client, cfg: cfg}, nil
}

// Upload stores the file at path under key and returns the object URL.
func (u *Uploader) Upload(ctx context.Context, key, path string) (string, error) {
	if _, err := u.client.FPutObject(ctx, u.cfg.Bucket, key, path, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return ObjectURL(u.cfg, key), nil
}

// ObjectURL returns the path-style URL of key in the configured bucket.
func ObjectURL(cfg Config, key string) string {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Endpoint, Path: "/" + cfg.Bucket + "/" + strings.TrimPrefix(key, "/")}
	return u.String()
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
