package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3Store
type S3Options struct {
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	Endpoint      string // S3-compatible providers
	PublicBaseURL string // when set, URLs are public and unsigned
	URLExpiry     time.Duration
}

// S3Store stores objects in an S3 bucket
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	publicURL string
	expiry    time.Duration
}

// NewS3Store creates a new S3-backed blob store
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := opts.URLExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}

	return &S3Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		expiry:    expiry,
	}, nil
}

// Put implements BlobStore
func (s *S3Store) Put(ctx context.Context, name string, data []byte, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// URL implements BlobStore
func (s *S3Store) URL(ctx context.Context, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + name, nil
	}

	request, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve URL for %s: %w", name, err)
	}
	return request.URL, nil
}
