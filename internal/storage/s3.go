package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3Config holds the bucket settings.
type S3Config struct {
	Bucket   string
	Endpoint string // MinIO / LocalStack; empty for AWS
}

// S3Store implements ObjectStore and Presigner on a versioned S3 bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *zap.Logger
}

// NewS3Store builds the S3 client from a loaded AWS config.
func NewS3Store(awsCfg aws.Config, cfg S3Config, logger *zap.Logger) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 object store initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", awsCfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		logger:  logger,
	}
}

// Put uploads an object and returns its version id.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, length int64, contentType string, metadata map[string]string) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(length),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	version := aws.ToString(out.VersionId)
	s.logger.Debug("object stored",
		zap.String("key", key),
		zap.String("version_id", version),
		zap.Int64("size", length),
	)
	return version, nil
}

// Get fetches an object, optionally at a specific version.
func (s *S3Store) Get(ctx context.Context, key, version string) (*Object, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if version != "" {
		in.VersionId = aws.String(version)
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	return &Object{
		ContentType: aws.ToString(out.ContentType),
		VersionID:   aws.ToString(out.VersionId),
		Metadata:    out.Metadata,
		Body:        out.Body,
	}, nil
}

// Copy performs a server-side copy and returns the new version id.
func (s *S3Store) Copy(ctx context.Context, srcKey, srcVersion, dstKey string) (string, error) {
	source := (&url.URL{Path: s.bucket + "/" + srcKey}).EscapedPath()
	if srcVersion != "" {
		source += "?versionId=" + url.QueryEscape(srcVersion)
	}

	out, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, ErrObjectNotFound)
		}
		return "", fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, err)
	}

	return aws.ToString(out.VersionId), nil
}

// PresignPut returns a presigned PUT URL for key.
func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", key, err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name := range req.SignedHeader {
		headers[name] = req.SignedHeader.Get(name)
	}

	return &PresignedUpload{
		Key:       key,
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re interface{ HTTPStatusCode() int }
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
