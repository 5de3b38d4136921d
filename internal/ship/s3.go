package ship

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Shipper completes the teacher's "s3 vault not yet implemented" stub for
// this domain: chunks are uploaded under <prefix>/<archiveBase>/<name> using
// the multipart manager, which handles the multi-gigabyte chunk sizes this
// system produces without holding the whole chunk in memory.
type S3Shipper struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Shipper builds an S3Shipper for bucket/prefix. When opts.S3AccessKeyID
// and opts.S3SecretKey are both set, they're used as static credentials;
// otherwise when opts.CredentialPath is set it's loaded as a shared
// credentials file; otherwise the default AWS credential chain (env vars,
// instance role, ~/.aws/credentials) applies.
func NewS3Shipper(ctx context.Context, bucket, prefix string, opts Options) (*S3Shipper, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.S3Region))
	}
	switch {
	case opts.S3AccessKeyID != "" && opts.S3SecretKey != "":
		provider := credentials.NewStaticCredentialsProvider(opts.S3AccessKeyID, opts.S3SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(provider))
	case opts.CredentialPath != "":
		loadOpts = append(loadOpts, awsconfig.WithSharedCredentialsFiles([]string{opts.CredentialPath}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.RetryMaxAttempts = maxTransportAttempts
	})
	return &S3Shipper{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3Shipper) key(archiveBase, name string) string {
	if s.prefix == "" {
		return archiveBase + "/" + name
	}
	return s.prefix + "/" + archiveBase + "/" + name
}

// Exists checks for the object's presence via HeadObject and returns its
// ETag as a stand-in digest. An ETag is not a SHA-256 digest, so the
// orchestrator treats any object found here as already shipped; a corrupted
// or truncated prior upload is not detected this way.
func (s *S3Shipper) Exists(ctx context.Context, archiveBase, name string) (bool, string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(archiveBase, name)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, "", nil
		}
		return false, "", fmt.Errorf("head object %s: %w", s.key(archiveBase, name), err)
	}
	etag := ""
	if out.ETag != nil {
		etag = *out.ETag
	}
	return true, etag, nil
}

// Put uploads r as the object at <prefix>/<archiveBase>/<name>.
func (s *S3Shipper) Put(ctx context.Context, archiveBase, name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(archiveBase, name)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", s.key(archiveBase, name), err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Shipper) Close() error { return nil }

var _ Shipper = (*S3Shipper)(nil)
