// Package storage fetches firmware images from S3-compatible object storage.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the requested object or prefix holds no firmware
var ErrNotFound = errors.New("object not found")

// ErrTooLarge is returned when an object exceeds the caller's size limit
var ErrTooLarge = errors.New("object exceeds size limit")

// ObjectAPI is the part of the S3 API used by Client. *s3.Client satisfies it.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures NewClient
type Options struct {
	Bucket string
	Region string

	// Anonymous skips the credential chain, for public buckets
	Anonymous bool
}

// Client provides S3 storage operations
type Client struct {
	api    ObjectAPI
	bucket string
	logger *zap.Logger
}

// NewClient creates a new S3 client from the default AWS configuration chain
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	logger.Info("s3_client_init", zap.String("bucket", opts.Bucket), zap.String("region", opts.Region))

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Anonymous {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger.Error("aws_config_load_failed", zap.Error(err))
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewClientWithAPI(s3.NewFromConfig(cfg), opts.Bucket, logger), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api ObjectAPI, bucket string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, bucket: bucket, logger: logger}
}

// Object is a downloaded object held in memory
type Object struct {
	Key    string
	Data   []byte
	SHA256 string
}

// Fetch downloads an object into memory and computes its SHA256. A maxSize of zero
// disables the size check.
func (c *Client) Fetch(ctx context.Context, key string, maxSize int64) (*Object, error) {
	c.logger.Info("s3_download_start", zap.String("bucket", c.bucket), zap.String("s3_key", key))

	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			c.logger.Info("s3_object_not_found", zap.String("s3_key", key))
			return nil, errors.Wrap(ErrNotFound, key)
		}
		c.logger.Error("s3_get_object_failed", zap.String("s3_key", key), zap.Error(err))
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	var body io.Reader = result.Body
	if maxSize > 0 {
		body = io.LimitReader(result.Body, maxSize+1)
	}

	hash := sha256.New()
	data, err := io.ReadAll(io.TeeReader(body, hash))
	if err != nil {
		c.logger.Error("s3_download_failed", zap.String("s3_key", key), zap.Error(err))
		return nil, errors.Wrap(err, "failed to download object")
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, errors.Wrap(ErrTooLarge, key)
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	c.logger.Info("s3_download_complete",
		zap.String("s3_key", key),
		zap.Int("size", len(data)),
		zap.String("sha256", checksum[:16]+"..."),
	)

	return &Object{Key: key, Data: data, SHA256: checksum}, nil
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	c.logger.Debug("s3_list_start", zap.String("bucket", c.bucket), zap.String("prefix", prefix))

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.logger.Error("s3_list_failed", zap.String("prefix", prefix), zap.Error(err))
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	c.logger.Debug("s3_list_complete", zap.String("prefix", prefix), zap.Int("object_count", len(keys)))

	return keys, nil
}

// Latest returns the lexically greatest ".bin" key under prefix. Build pipelines
// that name uploads by version or timestamp make this the newest image.
func (c *Client) Latest(ctx context.Context, prefix string) (string, error) {
	keys, err := c.ListObjects(ctx, prefix)
	if err != nil {
		return "", err
	}

	var bins []string
	for _, key := range keys {
		if strings.EqualFold(path.Ext(key), ".bin") {
			bins = append(bins, key)
		}
	}
	if len(bins) == 0 {
		return "", errors.Wrap(ErrNotFound, prefix)
	}

	sort.Strings(bins)
	return bins[len(bins)-1], nil
}
