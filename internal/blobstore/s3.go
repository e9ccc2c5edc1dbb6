package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"treesync/internal/models"
)

// S3Client contains the methods of the AWS SDK S3 client used here. It
// exists so the adapter can be unit tested.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ S3Client = &s3.Client{}

// S3Options configures an S3 backed blob store.
type S3Options struct {
	Bucket          string
	KeyPrefix       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Style           RefStyle
}

// S3 stores blobs as objects in one S3 bucket.
type S3 struct {
	client    S3Client
	bucket    string
	keyPrefix string
	codec     RefCodec
}

// NewS3FromOptions loads the AWS default config chain and creates an S3 store.
func NewS3FromOptions(ctx context.Context, opts S3Options) (*S3, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var loadOptions []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOptions = append(loadOptions, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, opts), nil
}

// NewS3 wraps an existing client.
func NewS3(client S3Client, opts S3Options) *S3 {
	return &S3{
		client:    client,
		bucket:    opts.Bucket,
		keyPrefix: opts.KeyPrefix,
		codec:     RefCodec{Style: opts.Style, Scheme: "s3", Bucket: opts.Bucket},
	}
}

// Codec returns the reference codec of this store.
func (b *S3) Codec() RefCodec {
	return b.codec
}

func (b *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.head(ctx, key)
	return ok, err
}

// Checksum prefers the digest recorded at upload time and falls back to
// hashing the object content.
func (b *S3) Checksum(ctx context.Context, key string) (string, bool, error) {
	out, ok, err := b.head(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	if sum := out.Metadata[checksumMetadataKey]; sum != "" {
		return sum, true, nil
	}
	rc, err := b.Download(ctx, key)
	if err != nil {
		return "", false, err
	}
	defer rc.Close()
	sum, _, err := HashReader(rc)
	if err != nil {
		return "", false, classifyS3Error("checksum", key, err)
	}
	return sum, true, nil
}

func (b *S3) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := b.objectName(key)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if isS3NotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, classifyS3Error("download", key, err)
	}
	return out.Body, nil
}

// Upload issues a single PutObject. S3 never exposes a partially written
// object, so an aborted request leaves the previous version in place.
func (b *S3) Upload(ctx context.Context, key string, r io.Reader, info UploadInfo) error {
	name, err := b.objectName(key)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
		Body:   r,
	}
	if info.SizeBytes > 0 {
		input.ContentLength = aws.Int64(info.SizeBytes)
	}
	if info.SHA256 != "" {
		input.Metadata = map[string]string{checksumMetadataKey: info.SHA256}
		// S3 rejects the PUT when the body does not hash to this value.
		b64, err := base64SHA256(info.SHA256)
		if err != nil {
			return models.NewStoreError("upload", key, false, err)
		}
		input.ChecksumAlgorithm = types.ChecksumAlgorithmSha256
		input.ChecksumSHA256 = aws.String(b64)
	}
	if info.ContentType != "" {
		input.ContentType = aws.String(info.ContentType)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return classifyS3Error("upload", key, err)
	}
	return nil
}

func (b *S3) List(ctx context.Context) ([]models.Blob, error) {
	var out []models.Blob
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error("list", b.keyPrefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, models.Blob{
				Key:            strings.TrimPrefix(aws.ToString(obj.Key), b.keyPrefix),
				SizeBytes:      aws.ToInt64(obj.Size),
				StorageBackend: "s3",
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *S3) head(ctx context.Context, key string) (*s3.HeadObjectOutput, bool, error) {
	name, err := b.objectName(key)
	if err != nil {
		return nil, false, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if isS3NotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyS3Error("stat", key, err)
	}
	return out, true, nil
}

func (b *S3) objectName(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return b.keyPrefix + key, nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func classifyS3Error(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var respErr *awshttp.ResponseError
	transient := false
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		transient = code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return models.NewStoreError(op, key, transient, err)
}

var _ BlobStore = (*S3)(nil)
