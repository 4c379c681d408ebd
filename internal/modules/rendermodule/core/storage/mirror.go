package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"
)

// Mirror receives a copy of every persisted asset.
type Mirror interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Close() error
}

// MirrorConfig selects and configures the mirror backend. An empty Backend
// disables mirroring.
type MirrorConfig struct {
	Backend         string // "s3" or "gcs"
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // S3 compatible endpoint, path style addressing
	AccessKey       string
	SecretKey       string
	CredentialsFile string // GCS service account key; default credentials when empty
	Timeout         time.Duration
}

// NewMirror builds the configured backend, or returns nil when mirroring is off.
func NewMirror(ctx context.Context, cfg MirrorConfig) (Mirror, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "none":
		return nil, nil
	case "s3":
		m, err := newS3Mirror(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "gcs":
		m, err := newGCSMirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}

// MirrorKey is the object key for a local asset path.
func MirrorKey(prefix, localPath string) string {
	return path.Join(prefix, filepath.Base(localPath))
}

type s3Mirror struct {
	bucket   string
	uploader *manager.Uploader
}

func newS3Mirror(cfg MirrorConfig) (*s3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror requires a bucket")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 mirror requires an access key and secret key")
	}

	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	return &s3Mirror{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(s3.New(opts)),
	}, nil
}

func (m *s3Mirror) Upload(ctx context.Context, key string, r io.Reader) error {
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3 bucket %s: %w", key, m.bucket, err)
	}
	return nil
}

func (m *s3Mirror) Close() error { return nil }

type gcsMirror struct {
	bucket string
	client *gcs.Client
}

func newGCSMirror(ctx context.Context, cfg MirrorConfig) (*gcsMirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs mirror requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	return &gcsMirror{bucket: cfg.Bucket, client: client}, nil
}

func (m *gcsMirror) Upload(ctx context.Context, key string, r io.Reader) error {
	w := m.client.Bucket(m.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s to gcs bucket %s: %w", key, m.bucket, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish %s in gcs bucket %s: %w", key, m.bucket, err)
	}
	return nil
}

func (m *gcsMirror) Close() error { return m.client.Close() }

// mirrorFiles uploads each existing path. Failures are logged and skipped.
func (s *AssetStore) mirrorFiles(ctx context.Context, jobID string, paths ...string) {
	if s.mirror == nil {
		return
	}
	timeout := s.config.Mirror.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := s.mirrorFile(ctx, timeout, p); err != nil {
			s.logger.Warn("failed to mirror asset", "job_id", jobID, "path", p, "error", err)
			continue
		}
		s.logger.Debug("asset mirrored", "job_id", jobID, "path", p, "backend", s.config.Mirror.Backend)
	}
}

func (s *AssetStore) mirrorFile(ctx context.Context, timeout time.Duration, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.mirror.Upload(ctx, MirrorKey(s.config.Mirror.Prefix, p), f)
}
