package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options of the S3 client. Empty fields fall back on the default aws configuration (AWS_* env, shared config)
type Options struct {
	Region          string
	Endpoint        string // S3-compatible endpoint (path-style addressing)
	AccessKeyID     string
	SecretAccessKey string
}

// Strategy stores files in an S3 bucket
type Strategy struct {
	client *s3.Client
}

// NewStrategy creates a Strategy
func NewStrategy(ctx context.Context, opts Options) (*Strategy, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3.NewStrategy.LoadDefaultConfig: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Strategy{client: client}, nil
}

// Parse splits a s3://bucket/key uri
func Parse(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("s3.Parse: invalid uri %s", uri)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(uri, "s3://"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3.Parse: missing bucket in %s", uri)
	}
	return bucket, key, nil
}

// UploadFile copies the content of r into the object at uri (multipart upload for large files)
func (s *Strategy) UploadFile(ctx context.Context, uri string, r io.Reader) error {
	bucket, key, err := Parse(uri)
	if err != nil {
		return err
	}
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB per part
	})
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	}); err != nil {
		return fmt.Errorf("UploadFile.Upload: %w", err)
	}
	return nil
}
