// Package s3sign presigns package downloads stored in Amazon S3 (or an
// S3-compatible endpoint).
package s3sign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
)

const defaultExpires = 15 * time.Minute

// KeyFunc maps a license to the object key of its package.
type KeyFunc func(l *cnwserver.License) string

// PrefixKey returns a KeyFunc producing "<prefix><productID>.zip".
func PrefixKey(prefix string) KeyFunc {
	return func(l *cnwserver.License) string {
		return fmt.Sprintf("%s%d.zip", prefix, l.ProductID)
	}
}

// Config holds the settings needed to build a Signer.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible storage
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Expires         time.Duration
	UsePathStyle    bool
}

// Option configures a Signer.
type Option func(*Signer)

// WithKeyFunc overrides how object keys are derived from licenses.
func WithKeyFunc(fn KeyFunc) Option {
	return func(s *Signer) {
		s.keyFunc = fn
	}
}

// WithExpires sets how long presigned URLs stay valid. Default: 15 minutes.
func WithExpires(d time.Duration) Option {
	return func(s *Signer) {
		s.expires = d
	}
}

// Signer implements cnwserver.StorageSigner with S3 presigned GET requests.
type Signer struct {
	presigner *s3.PresignClient
	bucket    string
	keyFunc   KeyFunc
	expires   time.Duration
}

// NewSigner wraps an existing S3 client.
func NewSigner(client *s3.Client, bucket string, opts ...Option) (*Signer, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	s := &Signer{
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		keyFunc:   PrefixKey(""),
		expires:   defaultExpires,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// New builds a Signer from cfg. Static credentials are used when both keys
// are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config, opts ...Option) (*Signer, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	base := []Option{WithKeyFunc(PrefixKey(cfg.Prefix))}
	if cfg.Expires > 0 {
		base = append(base, WithExpires(cfg.Expires))
	}
	return NewSigner(client, cfg.Bucket, append(base, opts...)...)
}

// PresignedURLFor returns a time-limited GET URL for the license's package.
func (s *Signer) PresignedURLFor(ctx context.Context, l *cnwserver.License) (string, error) {
	if l == nil {
		return "", errors.New("license is required")
	}
	key := s.keyFunc(l)
	if key == "" {
		return "", fmt.Errorf("no package key for product %d", l.ProductID)
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expires))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}
