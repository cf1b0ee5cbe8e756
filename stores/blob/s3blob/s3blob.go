// Package s3blob implements blobio.Backend over an S3-compatible object
// store (AWS S3, MinIO, Hetzner Cloud Storage), adapted from the
// teacher's storage package: the same config.LoadDefaultConfig plus
// custom endpoint-resolver plus static-credentials construction
// MinioGetObject/S3AwsListObjects use, generalized into the Backend
// contract stores/blob needs.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"hygge.dev/blobio"
	"hygge.dev/ferrors"
)

// Client is the subset of *s3.Client this package drives, narrowed so a
// test can substitute a mock the way storage/s3_mock.go does for the
// teacher's S3Client.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Config names the endpoint, credentials, and bucket this Backend talks
// to. Endpoint is left empty for real AWS S3; set it for MinIO/Hetzner-
// style S3-compatible endpoints, mirroring the teacher's
// config.WithEndpointResolverWithOptions usage.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	PathStyle bool
}

// Backend implements blobio.Backend over S3-compatible object storage.
// Paths are object keys relative to Config.Bucket; there is no directory
// concept, so EnsureParents is a no-op and DeleteDirectory always lists
// before deleting.
type Backend struct {
	client Client
	bucket string
}

var _ blobio.Backend = (*Backend)(nil)

// New builds a Backend from cfg, resolving credentials and (if set) a
// custom endpoint the same way MinioGetObject/S3AwsListObjects do.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ferrors.NewConfigError("loading S3 client configuration", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

// NewWithClient wraps an already-constructed Client, used by tests to
// substitute a mock.
func NewWithClient(client Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

func (b *Backend) Upload(ctx context.Context, path string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return ferrors.NewSinkError("uploading object "+path, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, path string) ([]byte, bool, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, ferrors.NewSourceError("reading object "+path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, ferrors.NewSourceError("reading object body "+path, err)
	}
	return data, true, nil
}

// Move copies src to dst then deletes src, since S3 has no atomic rename.
func (b *Backend) Move(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return ferrors.NewSinkError("copying "+src+" to "+dst, err)
	}
	return b.Delete(ctx, src)
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return ferrors.NewSinkError("deleting object "+path, err)
	}
	return nil
}

// DeleteDirectory lists every object under path and batch-deletes them;
// recursive is accepted for blobio.Backend shape-compatibility but is
// effectively always true since S3 keys are flat.
func (b *Backend) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	keys, err := b.List(ctx, path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}
	_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(b.bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return ferrors.NewSinkError("batch-deleting objects under "+path, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, ferrors.NewSourceError("checking existence of "+path, err)
	}
	return true, nil
}

// EnsureParents is a no-op: S3 keys have no directory structure to create.
func (b *Backend) EnsureParents(ctx context.Context, path string) error { return nil }

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, ferrors.NewSourceError("listing objects under "+prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}
