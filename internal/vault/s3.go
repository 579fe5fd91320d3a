package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wsundo/internal/config"
	"wsundo/internal/history"
)

// versionKey is the object metadata key holding a metadata item's version.
const versionKey = "wsundo-version"

// S3API is the subset of the S3 client the vault uses.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Vault stores content under <prefix>/content/<checksum> and metadata
// under <prefix>/metadata/<hostID>/<name> in one bucket.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   S3API
	uploader *manager.Uploader
}

// NewS3Vault creates a vault using client.
func NewS3Vault(name, bucket, prefix string, client S3API) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewS3VaultFromConfig builds the S3 client from the default AWS credential
// chain. AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY override it when set,
// and S3Endpoint points the client at an S3-compatible service.
func NewS3VaultFromConfig(ctx context.Context, cfg config.VaultConfig, staticKeyID, staticSecret string) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if staticKeyID != "" && staticSecret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(staticKeyID, staticSecret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

func (v *S3Vault) contentKey(checksum string) string {
	return path.Join(v.prefix, "content", checksum)
}

func (v *S3Vault) metadataKey(hostID, name string) string {
	return path.Join(v.prefix, "metadata", hostID, name)
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func (v *S3Vault) put(key string, r io.Reader, size int64, meta map[string]string) error {
	counted := &countingReader{r: r}
	_, err := v.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(key),
		Body:     counted,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	if counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return nil
}

func (v *S3Vault) get(key string, w io.Writer) error {
	out, err := v.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, history.ErrContentNotFound)
		}
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	return nil
}

// PutContent uploads content unless an object with the checksum exists.
func (v *S3Vault) PutContent(checksum string, r io.Reader, size int64) error {
	ok, err := v.HasContent(checksum)
	if err != nil {
		return err
	}
	if ok {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}
	return v.put(v.contentKey(checksum), r, size, nil)
}

func (v *S3Vault) GetContent(checksum string, w io.Writer) error {
	return v.get(v.contentKey(checksum), w)
}

func (v *S3Vault) HasContent(checksum string) (bool, error) {
	_, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.contentKey(checksum)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking content: %w", err)
	}
	return true, nil
}

func (v *S3Vault) DeleteContent(checksum string) error {
	_, err := v.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.contentKey(checksum)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting content: %w", err)
	}
	return nil
}

// PutMetadata stores the item with its version as object metadata.
func (v *S3Vault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionKey: strconv.FormatInt(version, 10)}
	return v.put(v.metadataKey(hostID, name), r, size, meta)
}

func (v *S3Vault) GetMetadata(hostID string, name string, w io.Writer) error {
	return v.get(v.metadataKey(hostID, name), w)
}

func (v *S3Vault) GetMetadataVersion(hostID string, name string) (int64, error) {
	out, err := v.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.metadataKey(hostID, name)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading metadata version: %w", err)
	}
	raw, ok := out.Metadata[versionKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket is reachable with the configured credentials.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ history.Vault = (*S3Vault)(nil)
