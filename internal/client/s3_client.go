package client

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"access-service/internal/config"
)

// S3API is the slice of the S3 client the audio store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Client stores audio post blobs in a single bucket.
type S3Client struct {
	api    S3API
	bucket string
}

func NewS3Client(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*S3Client, error) {
	s3cfg := cfg.S3

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s3cfg.Region)}
	if s3cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.AccessKey, s3cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 client initialized",
		zap.String("bucket", s3cfg.Bucket),
		zap.String("region", s3cfg.Region),
		zap.String("endpoint", s3cfg.Endpoint))

	return NewS3ClientFrom(api, s3cfg.Bucket), nil
}

func NewS3ClientFrom(api S3API, bucket string) *S3Client {
	return &S3Client{api: api, bucket: bucket}
}

// PutAudio uploads body under key. size must be the exact body length.
func (c *S3Client) PutAudio(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload audio object: %w", err)
	}
	return nil
}

// DeleteAudio removes the object at key. Deleting a missing key succeeds.
func (c *S3Client) DeleteAudio(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete audio object: %w", err)
	}
	return nil
}

func (c *S3Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}
