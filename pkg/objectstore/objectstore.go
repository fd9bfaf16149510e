// Package objectstore stores and fetches objects in an S3-compatible bucket
// store such as MinIO.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"mind/pkg/config"
)

// ErrNotFound is returned for a missing bucket or key.
var ErrNotFound = errors.New("object not found")

// Store is the bucket/object surface the services need.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, body []byte, meta map[string]string) error
	// Download writes the object to dest and returns its metadata.
	Download(ctx context.Context, bucket, key, dest string) (map[string]string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// S3 implements Store over the AWS SDK with path-style addressing.
type S3 struct {
	client *s3.Client
	log    *zap.Logger
}

// Connect builds a client for the configured endpoint using static
// credentials.
func Connect(ctx context.Context, cfg config.ObjectStore, log *zap.Logger) (*S3, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("object store endpoint is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading object store config: %w", err)
	}

	endpoint := EndpointURL(cfg.Endpoint, cfg.Secure)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	log.Info("Configured object store", zap.String("endpoint", endpoint), zap.String("region", region))
	return &S3{client: client, log: log}, nil
}

// EndpointURL adds a scheme to a bare host:port endpoint.
func EndpointURL(endpoint string, secure bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if secure {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (s *S3) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	s.log.Info("Created bucket", zap.String("bucket", bucket))
	return nil
}

func (s *S3) Put(ctx context.Context, bucket, key string, body []byte, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("putting %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3) Download(ctx context.Context, bucket, key, dest string) (map[string]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapNotFound(err, bucket, key)
	}
	defer out.Body.Close()

	if err := writeFile(dest, out.Body); err != nil {
		return nil, err
	}

	meta := make(map[string]string, len(out.Metadata)+3)
	for k, v := range out.Metadata {
		meta[k] = v
	}
	if out.ContentType != nil {
		meta["Content-Type"] = *out.ContentType
	}
	if out.ETag != nil {
		meta["ETag"] = *out.ETag
	}
	if out.ContentLength != nil {
		meta["Content-Length"] = fmt.Sprint(*out.ContentLength)
	}
	return meta, nil
}

func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return mapNotFound(err, bucket, key)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", bucket, key, err)
	}
	return nil
}

func mapNotFound(err error, bucket, key string) error {
	var (
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
		nf       *types.NotFound
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &nf) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	return fmt.Errorf("getting %s/%s: %w", bucket, key, err)
}

func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
