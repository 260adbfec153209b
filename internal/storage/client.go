package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"s3mcp/internal/config"
	"s3mcp/internal/model"
)

// Client wraps a single long-lived minio client. It is constructed once at
// process start and shared read-only by every invocation; it holds no mutable
// state beyond the connection handle.
type Client struct {
	api *minio.Client
	log zerolog.Logger
}

func New(cfg config.Config, log zerolog.Logger) (*Client, error) {
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Client{api: api, log: log}, nil
}

// ListBuckets returns every bucket owned by the configured account. An
// account with zero buckets yields an empty slice, not an error.
func (c *Client) ListBuckets(ctx context.Context) ([]model.BucketInfo, error) {
	raw, err := c.api.ListBuckets(ctx)
	if err != nil {
		return nil, classify(err, "list buckets")
	}
	buckets := make([]model.BucketInfo, 0, len(raw))
	for _, b := range raw {
		buckets = append(buckets, model.BucketInfo{
			Name:      b.Name,
			CreatedAt: b.CreationDate,
		})
	}
	c.log.Debug().Int("count", len(buckets)).Msg("listed buckets")
	return buckets, nil
}

// ListObjects returns one page of objects under prefix. startAfter is the
// continuation token from a previous page (empty for the first). When the
// listing is truncated at limit, nextToken carries the last returned key and
// the caller loops.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix, startAfter string, limit int) ([]model.ObjectInfo, string, error) {
	if limit <= 0 {
		limit = 1000
	}

	exists, err := c.api.BucketExists(ctx, bucket)
	if err != nil {
		return nil, "", classify(err, fmt.Sprintf("check bucket %q", bucket))
	}
	if !exists {
		return nil, "", model.NewNotFoundError(fmt.Sprintf("bucket %q does not exist", bucket), nil)
	}

	opts := minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: startAfter,
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	page := make([]model.ObjectInfo, 0, limit)
	truncated := false
	for obj := range c.api.ListObjects(listCtx, bucket, opts) {
		if obj.Err != nil {
			return nil, "", classify(obj.Err, fmt.Sprintf("list objects in %q", bucket))
		}
		if len(page) == limit {
			truncated = true
			break
		}
		page = append(page, model.ObjectInfo{
			Bucket:       bucket,
			Key:          obj.Key,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
			ContentType:  obj.ContentType,
			ETag:         strings.Trim(obj.ETag, `"`),
		})
	}

	nextToken := ""
	if truncated && len(page) > 0 {
		nextToken = page[len(page)-1].Key
	}
	c.log.Debug().Str("bucket", bucket).Str("prefix", prefix).
		Int("count", len(page)).Bool("truncated", truncated).Msg("listed objects")
	return page, nextToken, nil
}

// StatObject fetches authoritative metadata for one object.
func (c *Client) StatObject(ctx context.Context, bucket, key string) (model.ObjectInfo, error) {
	info, err := c.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return model.ObjectInfo{}, classify(err, fmt.Sprintf("stat %s/%s", bucket, key))
	}
	return model.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		SizeBytes:    info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ETag:         strings.Trim(info.ETag, `"`),
	}, nil
}

// GetObjectRange reads length bytes starting at offset. An offset equal to
// the object size returns an empty slice; an offset beyond it surfaces
// RangeNotSatisfiableError from the store.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, model.NewRangeNotSatisfiableError(
			fmt.Sprintf("negative range offset=%d length=%d", offset, length), nil)
	}
	if length == 0 {
		return []byte{}, nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, model.NewRangeNotSatisfiableError(err.Error(), err)
	}

	obj, err := c.api.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("get %s/%s", bucket, key))
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	buf.Grow(int(length))
	n, err := io.Copy(buf, obj)
	if err != nil {
		// The store answers a range starting exactly at EOF with 416; the
		// contract wants empty bytes there instead.
		if rangeError(err) {
			if info, statErr := c.StatObject(ctx, bucket, key); statErr == nil && offset == info.SizeBytes {
				return []byte{}, nil
			}
			return nil, model.NewRangeNotSatisfiableError(
				fmt.Sprintf("offset %d exceeds size of %s/%s", offset, bucket, key), err)
		}
		return nil, classify(err, fmt.Sprintf("read range %s/%s", bucket, key))
	}
	c.log.Debug().Str("bucket", bucket).Str("key", key).
		Int64("offset", offset).Int64("read", n).Msg("fetched object range")
	return buf.Bytes(), nil
}

// MakeBucket creates the bucket unless it already exists.
func (c *Client) MakeBucket(ctx context.Context, bucket, region string) error {
	exists, err := c.api.BucketExists(ctx, bucket)
	if err != nil {
		return classify(err, fmt.Sprintf("check bucket %q", bucket))
	}
	if exists {
		c.log.Info().Str("bucket", bucket).Msg("bucket already exists")
		return nil
	}
	if err := c.api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return classify(err, fmt.Sprintf("create bucket %q", bucket))
	}
	c.log.Info().Str("bucket", bucket).Str("region", region).Msg("created bucket")
	return nil
}

// PutObject uploads data under bucket/key.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) (model.ObjectInfo, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := c.api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return model.ObjectInfo{}, classify(err, fmt.Sprintf("put %s/%s", bucket, key))
	}
	c.log.Info().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("uploaded object")
	return model.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		SizeBytes:   info.Size,
		ContentType: contentType,
		ETag:        strings.Trim(info.ETag, `"`),
	}, nil
}

// PresignGet returns a time-limited URL for downloading bucket/key without
// exposing credentials. The object must exist.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if _, err := c.StatObject(ctx, bucket, key); err != nil {
		return "", err
	}
	presigned, err := c.api.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", classify(err, fmt.Sprintf("presign %s/%s", bucket, key))
	}
	return presigned.String(), nil
}
