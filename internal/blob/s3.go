package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"quill/internal/config"
	"quill/internal/services"
)

// S3API is the subset of the S3 client used by the backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores blobs in a bucket.
type S3 struct {
	client  S3API
	bucket  string
	prefix  string
	baseURL string
}

// NewS3 wraps an S3 client.
func NewS3(client S3API, bucket, prefix, baseURL string) *S3 {
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		baseURL: baseURL,
	}
}

// NewS3FromConfig loads AWS credentials from the default chain and builds
// the backend.
func NewS3FromConfig(ctx context.Context, cfg *config.Config) (*S3, error) {
	if strings.TrimSpace(cfg.Blob.S3Bucket) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", "s3 bucket is required", nil)
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Blob.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Blob.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "open", "load aws config", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Blob.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Blob.S3Endpoint)
		}
		o.UsePathStyle = cfg.Blob.S3UsePathStyle
	})
	return NewS3(client, cfg.Blob.S3Bucket, cfg.Blob.S3Prefix, cfg.Blob.PublicBaseURL), nil
}

func (s *S3) objectKey(key string) (string, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	if s.prefix == "" {
		return cleaned, cleaned, nil
	}
	return cleaned, s.prefix + "/" + cleaned, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) (Object, error) {
	cleaned, objectKey, err := s.objectKey(key)
	if err != nil {
		return Object{}, err
	}
	seeker, size, err := seekable(body)
	if err != nil {
		return Object{}, fmt.Errorf("buffer blob %s: %w", key, err)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   seeker,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Object{}, services.Wrap(services.ErrExternal, "blob", "put", fmt.Sprintf("upload %s", objectKey), err)
	}
	return Object{Key: cleaned, URL: s.URL(cleaned), ContentType: contentType, Size: size}, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_, objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)})
	if err != nil {
		if isS3NotFound(err) {
			return nil, services.Wrap(services.ErrNotFound, "blob", "open", fmt.Sprintf("blob %s not found", key), err)
		}
		return nil, services.Wrap(services.ErrExternal, "blob", "open", fmt.Sprintf("download %s", objectKey), err)
	}
	return out.Body, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, objectKey, err := s.objectKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, services.Wrap(services.ErrExternal, "blob", "exists", fmt.Sprintf("head %s", objectKey), err)
	}
	return true, nil
}

// Delete removes key. S3 reports success for missing keys.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(objectKey)}); err != nil {
		if isS3NotFound(err) {
			return nil
		}
		return services.Wrap(services.ErrExternal, "blob", "delete", fmt.Sprintf("delete %s", objectKey), err)
	}
	return nil
}

func (s *S3) URL(key string) string {
	_, objectKey, err := s.objectKey(key)
	if err != nil {
		return ""
	}
	if url := joinURL(s.baseURL, objectKey); url != "" {
		return url
	}
	return "s3://" + s.bucket + "/" + objectKey
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

// seekable returns body as a ReadSeeker with its remaining length. The SDK
// signs payloads and needs to rewind them.
func seekable(body io.Reader) (io.ReadSeeker, int64, error) {
	if rs, ok := body.(io.ReadSeeker); ok {
		start, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, err
		}
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := rs.Seek(start, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return rs, end - start, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
