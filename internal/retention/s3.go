package retention

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver writes swept event batches as JSONL objects to an S3-compatible
// bucket, keyed by batch date.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver creates an S3 archiver. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewS3Archiver(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3opts...)
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Archive uploads one JSONL batch. Object keys include the batch's emission
// date and the upload time so successive sweeps never overwrite each other.
func (a *S3Archiver) Archive(ctx context.Context, batchTime time.Time, data []byte) error {
	key := fmt.Sprintf("%s/%s/events-%s.jsonl",
		a.prefix,
		batchTime.UTC().Format("2006/01/02"),
		time.Now().UTC().Format("150405"),
	)
	contentType := "application/x-ndjson"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
