package capture

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	_defaultConnAttempts = 5
	_defaultConnTimeout  = time.Second
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client connects to an S3 compatible endpoint and checks that bucket is reachable.
func NewS3Client(ctx context.Context, endpoint, region, accessKey, secretKey, bucket string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("capture - config.LoadDefaultConfig: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	for attempt := 1; ; attempt++ {
		_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			return client, nil
		}
		if attempt == _defaultConnAttempts {
			return nil, fmt.Errorf("capture - HeadBucket %s: %w", bucket, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(_defaultConnTimeout):
		}
	}
}

// S3Mirror saves through the wrapped store and then uploads the same bytes to a bucket.
// Upload failures are logged and never fail the capture.
type S3Mirror struct {
	next   Store
	client objectPutter
	bucket string
	logger *zap.Logger
}

// NewS3Mirror wraps next with an upload to bucket.
func NewS3Mirror(next Store, client objectPutter, bucket string, logger *zap.Logger) *S3Mirror {
	return &S3Mirror{next: next, client: client, bucket: bucket, logger: logger.Named("capture_s3")}
}

// Save stores img locally and uploads a copy keyed by its file name.
func (m *S3Mirror) Save(ctx context.Context, img *Image) (string, error) {
	location, err := m.next.Save(ctx, img)
	if err != nil {
		return "", err
	}

	key := filepath.Base(location)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(img.Data),
		ContentType:   aws.String(img.MIMEType),
		ContentLength: aws.Int64(int64(len(img.Data))),
	})
	if err != nil {
		m.logger.Warn("capture mirror upload failed", zap.String("key", key), zap.Error(err))
		return location, nil
	}

	m.logger.Debug("capture mirrored", zap.String("bucket", m.bucket), zap.String("key", key))
	return location, nil
}
