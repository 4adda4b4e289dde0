package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the slice of the S3 API the store calls. An [s3.Client]
// satisfies it; tests substitute an in-memory fake.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store implements FileStore on Amazon S3 or anything S3-compatible
// (MinIO, R2). Store paths become object keys under an optional prefix.
// Credentials, region and endpoint are the client's concern; the store
// holds none of that.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed FileStore writing to the given bucket.
// prefix is prepended to every object key; pass "" for none.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Read opens the named object. A missing key comes back as an error
// wrapping os.ErrNotExist.
func (s *S3Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	switch {
	case isS3NotFound(err):
		return nil, fmt.Errorf("storage: read %s: %w", path, os.ErrNotExist)
	case err != nil:
		return nil, err
	}
	return out.Body, nil
}

// Write returns a writer whose bytes stream into a PutObject running in
// the background. Close signals EOF, waits the upload out, and returns
// its error.
func (s *S3Store) Write(ctx context.Context, path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	u := &uploadWriter{PipeWriter: pw, result: make(chan error, 1)}
	go func() {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(path)),
			Body:   pr,
		})
		// A failed upload stops reading early; close the read side so
		// the producer's Write calls fail instead of blocking.
		pr.CloseWithError(err)
		u.result <- err
	}()
	return u, nil
}

// Delete removes the named object. S3 reports success for missing keys,
// so Delete is idempotent.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	return err
}

// Exists reports whether the named object exists.
func (s *S3Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	switch {
	case isS3NotFound(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// uploadWriter is the producer end of a streaming upload. Write goes
// straight to the pipe; Close finishes the upload exactly once.
type uploadWriter struct {
	*io.PipeWriter
	result chan error
	once   sync.Once
	err    error
}

func (u *uploadWriter) Close() error {
	u.once.Do(func() {
		u.PipeWriter.Close()
		u.err = <-u.result
	})
	return u.err
}

// isS3NotFound reports whether err indicates a missing object.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "NotFound" || code == "NoSuchKey"
}

var _ FileStore = (*S3Store)(nil)
