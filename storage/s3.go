package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements BlobStore against any S3-compatible endpoint. Used by
// self-hosted deployments where clients write ciphertext straight to a
// bucket instead of proxying bytes through the API server. The bucket only
// ever sees AEAD ciphertext and wrapped keys.
type S3Store struct {
	client     *s3.Client
	bucketName string
}

var _ BlobStore = (*S3Store)(nil)

// S3Config holds the settings needed to reach an S3-compatible endpoint.
type S3Config struct {
	Endpoint        string // empty for AWS proper
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UsePathStyle    bool // true for MinIO and most self-hosted endpoints
}

// NewS3Store creates a BlobStore backed by an S3-compatible bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucketName: cfg.BucketName}, nil
}

// PutObject uploads a ciphertext blob.
func (s *S3Store) PutObject(ctx context.Context, storageID string, reader io.Reader, size int64, opts PutObjectOptions) (UploadInfo, error) {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	output, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(storageID),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      opts.UserMetadata,
	})
	if err != nil {
		return UploadInfo{}, fmt.Errorf("failed to put object: %w", err)
	}
	return UploadInfo{
		Key:  storageID,
		ETag: aws.ToString(output.ETag),
		Size: size,
	}, nil
}

// GetObject retrieves a ciphertext blob, honoring an optional byte range so
// the download path can fetch one encrypted chunk at a time.
func (s *S3Store) GetObject(ctx context.Context, storageID string, opts GetObjectOptions) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(storageID),
	}
	if start, end, hasRange := opts.GetRange(); hasRange {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, end))
	}
	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return output.Body, nil
}

// RemoveObject deletes a ciphertext blob.
func (s *S3Store) RemoveObject(ctx context.Context, storageID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(storageID),
	})
	if err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}
