// Package remote uploads the encrypted artifact to an S3-compatible blob
// store and verifies the upload by reading it back and byte-comparing it
// against the local file. Local deletion is gated on that verification.
package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/config"
	"github.com/dmitrijs2005/snapvault/internal/filex"
	"github.com/dmitrijs2005/snapvault/internal/logging"
)

// Test seam for aws config loading.
var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// S3API is the slice of the S3 client the uploader needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Uploader puts blobs under bucket/prefix.
type Uploader struct {
	client S3API
	bucket string
	prefix string
	log    logging.Logger
}

// NewUploader builds an Uploader from the remote configuration. Destination
// is "bucket" or "bucket/prefix". Endpoint, when set, overrides the base
// endpoint for S3-compatible stores.
func NewUploader(ctx context.Context, rc config.RemoteConfig, log logging.Logger) (*Uploader, error) {
	bucket, prefix, _ := strings.Cut(rc.Destination, "/")

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(rc.Region),
	}
	if rc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(rc.AccessKeyID, rc.SecretAccessKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if rc.Endpoint != "" {
			o.BaseEndpoint = aws.String(rc.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{client: client, bucket: bucket, prefix: prefix, log: log}, nil
}

// NewUploaderWithClient wires a pre-built client; used by tests.
func NewUploaderWithClient(client S3API, bucket, prefix string, log logging.Logger) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, log: log}
}

// Key returns the object key for a local file name.
func (u *Uploader) Key(localName string) string {
	return path.Join(u.prefix, localName)
}

// Upload copies localPath to the destination key. Transport failures are
// common.ErrUpload.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", common.ErrUpload, localPath, err)
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("%w: putting s3://%s/%s: %v", common.ErrUpload, u.bucket, key, err)
	}

	u.log.Info(ctx, "uploaded", "bucket", u.bucket, "key", key)
	return nil
}

// Verify reads the just-uploaded blob back and byte-compares it against the
// local file. Any difference is common.ErrVerifyMismatch; transport failures
// during read-back are common.ErrUpload.
func (u *Uploader) Verify(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", common.ErrUpload, localPath, err)
	}
	defer f.Close()

	obj, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: getting s3://%s/%s: %v", common.ErrUpload, u.bucket, key, err)
	}
	defer obj.Body.Close()

	same, err := filex.Equal(f, obj.Body)
	if err != nil {
		return fmt.Errorf("%w: comparing s3://%s/%s: %v", common.ErrUpload, u.bucket, key, err)
	}
	if !same {
		return fmt.Errorf("%w: s3://%s/%s vs %s", common.ErrVerifyMismatch, u.bucket, key, filepath.Base(localPath))
	}

	u.log.Info(ctx, "upload verified", "bucket", u.bucket, "key", key)
	return nil
}
