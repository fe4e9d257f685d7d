package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/services"
)

// S3Store is the production Store backend, built on aws-sdk-go-v2/service/s3
// with an optional custom endpoint for S3-compatible deployments (MinIO,
// etc.), the way the teacher's storage package configures LakeFS/Hetzner/
// MinIO clients.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store builds an S3Store from Config.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			},
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, r io.Reader, metadata map[string]string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
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

func (s *S3Store) ListObjects(ctx context.Context, prefix string, limit int) ([]Object, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
	}

	objects := make([]Object, 0, len(out.Contents))
	for _, o := range out.Contents {
		objects = append(objects, Object{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)})
	}
	return objects, nil
}

func (s *S3Store) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *S3Store) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	return req.URL, nil
}

// DeletePrefix lists everything under prefix and deletes it in batches of
// 1000 keys (the DeleteObjects API limit), returning the total count
// removed.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var paginationToken *string
	deleted := 0

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: paginationToken,
		})
		if err != nil {
			return deleted, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		if len(out.Contents) == 0 {
			break
		}

		ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, o := range out.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: o.Key})
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids},
		}); err != nil {
			return deleted, fmt.Errorf("delete objects under %s: %w", prefix, err)
		}
		deleted += len(ids)

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		paginationToken = out.NextContinuationToken
	}
	return deleted, nil
}

// SaveExtractedContent implements workflow.ExtractedContentStore: upload
// combined markdown under the document's extracted-content key.
func (s *S3Store) SaveExtractedContent(ctx context.Context, documentID int64, companyID string, markdown string) (string, error) {
	key := ExtractedContentKey(companyID, documentID)
	if err := s.Upload(ctx, key, bytes.NewReader([]byte(markdown)), nil); err != nil {
		return "", err
	}
	return key, nil
}

// LoadExtractedContent implements cellstrategy.ContentLoader: download a
// document's extracted markdown by its stored key.
func (s *S3Store) LoadExtractedContent(ctx context.Context, doc models.Document) (string, error) {
	if doc.ExtractedContentPath == nil {
		return "", fmt.Errorf("document %d has no extracted content path", doc.ID)
	}
	data, err := s.Download(ctx, *doc.ExtractedContentPath)
	if err != nil {
		return "", fmt.Errorf("load extracted content for document %d: %w", doc.ID, err)
	}
	return string(data), nil
}
