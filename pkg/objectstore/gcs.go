package objectstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBucket writes staged objects into a destination-owned staging bucket,
// authenticated with that destination's service-account credential.
type GCSBucket struct {
	name   string
	bucket *storage.BucketHandle
	client *storage.Client
}

// OpenGCSBucket connects to the staging bucket and verifies it exists before
// any staged write happens.
func OpenGCSBucket(ctx context.Context, bucketName, serviceAccountJSON string) (*GCSBucket, error) {
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		return nil, fmt.Errorf("open gcs client: %w", err)
	}
	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = fmt.Errorf("%w (also failed closing client: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("staging bucket %s unreachable: %w", bucketName, err)
	}
	return &GCSBucket{name: bucketName, bucket: bucket, client: client}, nil
}

func (b *GCSBucket) Name() string { return b.name }

func (b *GCSBucket) Upload(ctx context.Context, objectPath string, contents io.Reader) error {
	w := b.bucket.Object(objectPath).NewWriter(ctx)
	if _, err := io.Copy(w, contents); err != nil {
		_ = w.Close()
		return fmt.Errorf("write staged object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize staged object: %w", err)
	}
	return nil
}

func (b *GCSBucket) Delete(ctx context.Context, objectPath string) error {
	if err := b.bucket.Object(objectPath).Delete(ctx); err != nil {
		return fmt.Errorf("delete staged object: %w", err)
	}
	return nil
}

func (b *GCSBucket) Close() error {
	return b.client.Close()
}
