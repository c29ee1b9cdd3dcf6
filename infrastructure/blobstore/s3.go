package blobstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"social-publisher/domain/repository"
)

// S3VideoStore reads source videos from an S3-compatible bucket (AWS S3 or
// MinIO). Uploads stream straight from GetObject; platforms that ingest by
// URL get a time-boxed presigned GET instead of a public object.
type S3VideoStore struct {
	client *s3.Client
	bucket string
}

func NewS3VideoStore(endpoint, region, bucket, accessKey, secretKey string) (*S3VideoStore, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // required for MinIO and other S3-compatible services
	})

	return &S3VideoStore{client: client, bucket: bucket}, nil
}

// GetStream opens the object for reading and returns its size. The caller
// owns the reader and must close it.
func (s *S3VideoStore) GetStream(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	var size int64
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}

// GetPublicURL presigns a GET on the object so a platform can pull the video
// directly without the file transiting this service.
func (s *S3VideoStore) GetPublicURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignResult.URL, nil
}

var _ repository.IVideoStore = (*S3VideoStore)(nil)
