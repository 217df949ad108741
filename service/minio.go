package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore lists and copies objects inside a bucket.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
}

// MinioService talks to an S3-compatible object store. It reads raw units
// from the raw bucket and writes columnar files to the silver bucket.
type MinioService struct {
	client *minio.Client
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		config: cfg,
	}, nil
}

// EnsureBuckets creates the configured buckets if they don't exist
func (s *MinioService) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.config.RawBucket, s.config.SilverBucket} {
		if bucket == "" {
			continue
		}
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.config.Region}); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Read returns the payload of unit. When the unit carries an ETag only that
// version is read; a replaced object reads as ErrObjectNotFound.
func (s *MinioService) Read(ctx context.Context, unit model.RawUnit) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if unit.ETag != "" {
		if err := opts.SetMatchETag(unit.ETag); err != nil {
			return nil, fmt.Errorf("read %s: %w", unit.Identity, err)
		}
	}

	obj, err := s.client.GetObject(ctx, unit.Bucket, unit.Key, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", unit.Identity, mapMinioError(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", unit.Identity, mapMinioError(err))
	}
	return data, nil
}

// Put writes a columnar file to the silver bucket.
func (s *MinioService) Put(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.config.SilverBucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/vnd.apache.parquet"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, mapMinioError(err))
	}
	return nil
}

// List returns every object under prefix.
func (s *MinioService) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, mapMinioError(obj.Err))
		}
		out = append(out, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified.UTC(),
		})
	}
	return out, nil
}

// Copy copies srcKey to dstKey within bucket, keeping metadata.
func (s *MinioService) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, mapMinioError(err))
	}
	return nil
}

func mapMinioError(err error) error {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return err
	}
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "PreconditionFailed":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, resp.Message)
	case "AccessDenied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, resp.Message)
	}
	return err
}
