package output

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"golang.org/x/time/rate"
)

// Uploader is the part of s3manager.Uploader the sink needs.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Sink uploads exported images to a bucket, throttled by limiter.
type S3Sink struct {
	uploader Uploader
	bucket   string
	prefix   string
	limiter  *rate.Limiter
}

type S3Options struct {
	Bucket           string
	Prefix           string
	Region           string
	UploadsPerSecond float64 // 0 = unlimited
}

// NewS3Sink uses the default AWS credential chain.
func NewS3Sink(opts S3Options) (*S3Sink, error) {
	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return NewS3SinkWithUploader(s3manager.NewUploader(sess), opts), nil
}

func NewS3SinkWithUploader(u Uploader, opts S3Options) *S3Sink {
	limit := rate.Inf
	if opts.UploadsPerSecond > 0 {
		limit = rate.Limit(opts.UploadsPerSecond)
	}
	return &S3Sink{
		uploader: u,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (s *S3Sink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	key := path.Join(s.prefix, name)
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	out, err := s.uploader.UploadWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Location, nil
}
