// Package s3 implements a corpusdb backend.Backend on top of an
// S3-compatible object store, adapted from the teacher's registry/s3
// package.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"corpusdb/backend"
)

func init() {
	backend.Register("s3", func(host string) (backend.Backend, error) {
		return New(context.Background(), host)
	})
}

// ErrArtifactNotFound is returned when a key does not exist in the bucket.
var ErrArtifactNotFound = errors.New("key not found")

// Backend stores every key as an object in a single bucket. host is the
// bucket name; endpoint/region/credentials are taken from the ambient AWS
// configuration (environment, shared config file, or IMDS), matching how
// aws-sdk-go-v2's config.LoadDefaultConfig is normally wired.
type Backend struct {
	client *s3.Client
	bucket string
}

// New creates an S3-backed backend for bucket.
func New(ctx context.Context, bucket string) (*Backend, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("s3 backend requires a non-empty bucket name")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Backend{
		client: s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true }),
		bucket: bucket,
	}, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func (b *Backend) Get(ctx context.Context, key, dst string) error {
	object, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return ErrArtifactNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer func() {
		if cerr := object.Body.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close S3 object body")
		}
	}()

	//nolint:gosec // dst is caller-provided
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, object.Body); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return out.Close()
}

func (b *Backend) Put(ctx context.Context, src, key string) error {
	in, err := os.Open(src) //nolint:gosec // src is caller-provided
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	uploader := manager.NewUploader(b.client)
	result, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   in,
	})
	if err != nil {
		var mu manager.MultiUploadFailure
		if errors.As(err, &mu) {
			return fmt.Errorf("multi-upload failure (upload_id: %s): %w", mu.UploadID(), mu)
		}
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	log.Debug().Str("location", result.Location).Str("key", key).Msg("uploaded object to s3 backend")
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) ListVersions(ctx context.Context, name string) ([]string, error) {
	prefix := name + "/"
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var versions []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing versions of %s: %w", name, err)
		}
		for _, common := range page.CommonPrefixes {
			segment := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if backend.IsVersionString(segment) {
				versions = append(versions, segment)
			}
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}
