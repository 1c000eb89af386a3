// Package objectstore wraps the provisioned S3 bucket and destination-owned
// GCS staging buckets used by the staged-load protocol.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const presignExpiry = time.Hour

// S3Config carries the provisioned bucket settings.
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	KMSKeyID        string
	Endpoint        string
	ForcePathStyle  bool
}

// S3Client uploads staged objects, issues presigned result URLs and removes
// staged artifacts from the provisioned bucket.
type S3Client struct {
	cfg       S3Config
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

func NewS3(ctx context.Context, cfg S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("provisioned bucket name is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		cfg:       cfg,
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
	}, nil
}

func (c *S3Client) Bucket() string { return c.cfg.Bucket }

// StagingCredentials exposes the key pair and KMS key that CREATE STAGE /
// COPY statements hand to the warehouse so it can read the staged object.
func (c *S3Client) StagingCredentials() (accessKeyID, secretAccessKey, kmsKeyID string) {
	return c.cfg.AccessKeyID, c.cfg.SecretAccessKey, c.cfg.KMSKeyID
}

// Upload streams body to the bucket under key. The uploader consumes the
// reader incrementally, so compression backpressure reaches the source
// cursor.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for a finished transfer object.
func (c *S3Client) PresignGet(ctx context.Context, key string) (string, error) {
	out, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return out.URL, nil
}

// DeletePrefix removes every staged object under the prefix. Best-effort
// cleanup for loader tear-down.
func (c *S3Client) DeletePrefix(ctx context.Context, prefix string) error {
	listed, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("list staged objects: %w", err)
	}
	if len(listed.Contents) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(listed.Contents))
	for _, obj := range listed.Contents {
		objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
	}
	_, err = c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.cfg.Bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return fmt.Errorf("delete staged objects: %w", err)
	}
	return nil
}
