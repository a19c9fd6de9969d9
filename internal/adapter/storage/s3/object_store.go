// Package s3 stores capture files in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

// Config describes the remote bucket.
type Config struct {
	Endpoint    string
	Region      string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	MaxAttempts int
}

// ObjectStore implements domain.ObjectStore on top of the AWS SDK. Requests use
// path-style addressing so MinIO and similar servers work unchanged.
type ObjectStore struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewObjectStore creates a new ObjectStore for cfg.
func NewObjectStore(ctx context.Context, cfg Config, logger *slog.Logger) (*ObjectStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 client config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "s3_store", "bucket", cfg.Bucket),
	}, nil
}

// PutObject uploads the file at sourcePath under key.
func (s *ObjectStore) PutObject(ctx context.Context, key, sourcePath string) (int64, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return 0, &domain.UploadFault{Op: "put", Key: key, Err: fmt.Errorf("failed to open %s: %w", sourcePath, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &domain.UploadFault{Op: "put", Key: key, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(sourcePath)),
	})
	if err != nil {
		return 0, classify("put", key, err)
	}

	s.logger.Debug("Stored object", "key", key, "bytes", info.Size())
	return info.Size(), nil
}

// SetObjectTags replaces the tag set of key.
func (s *ObjectStore) SetObjectTags(ctx context.Context, key string, tags map[string]string) error {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)

	tagSet := make([]types.Tag, 0, len(names))
	for _, k := range names {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return classify("tag", key, err)
	}
	return nil
}

// ProbeBucket checks that the bucket exists and is reachable.
func (s *ObjectStore) ProbeBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}

// classify wraps err in an UploadFault. Credential and missing bucket errors are
// marked permanent; everything else is worth retrying.
func classify(op, key string, err error) error {
	transient := true

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
			transient = false
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusForbidden, http.StatusNotFound:
			transient = false
		}
	}

	return &domain.UploadFault{Op: op, Key: key, Transient: transient, Err: err}
}

func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".gz":
		return "application/gzip"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
