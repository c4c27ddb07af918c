package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client used here
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store reads and writes media objects in S3
type Store struct {
	api    API
	logger *slog.Logger
}

func New(api API, logger *slog.Logger) *Store {
	return &Store{api: api, logger: logger}
}

// Open streams an object. The caller closes the reader.
func (s *Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

// Download copies an object to destPath, creating parent directories
func (s *Store) Download(ctx context.Context, bucket, key, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", destPath, err)
	}

	body, err := s.Open(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	// Write to a temp file so an interrupted download never looks complete
	tmp := destPath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", tmp, err)
	}
	n, err := io.Copy(file, body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return err
	}

	s.logger.Info("Downloaded object", "bucket", bucket, "key", key, "path", destPath, "bytes", n)
	return nil
}

// Upload stores a local file under key
func (s *Store) Upload(ctx context.Context, bucket, key, srcPath, contentType string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", srcPath, err)
	}
	defer file.Close()

	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to upload '%s' to s3://%s/%s: %w", srcPath, bucket, key, err)
	}

	s.logger.Info("Uploaded object", "bucket", bucket, "key", key)
	return nil
}
