package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// COSConfig configures the Tencent Cloud COS backend.
type COSConfig struct {
	BucketURL string // https://bucket.cos.region.myqcloud.com
	SecretID  string
	SecretKey string
	Prefix    string
	Timeout   time.Duration
}

// COS stores objects in a Tencent Cloud COS bucket.
type COS struct {
	client    *cos.Client
	bucketURL string
	prefix    string
}

// NewCOS creates a COS-backed store.
func NewCOS(cfg COSConfig) (*COS, error) {
	if cfg.BucketURL == "" {
		return nil, errors.New("cos bucket url is required")
	}
	u, err := url.Parse(cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse cos bucket url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	}
	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, httpClient)
	return &COS{client: client, bucketURL: cfg.BucketURL, prefix: cfg.Prefix}, nil
}

func (c *COS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: contentType,
		},
	}
	if _, err := c.client.Object.Put(ctx, c.prefix+key, bytes.NewReader(data), opt); err != nil {
		return fmt.Errorf("cos put %s: %w", key, err)
	}
	return nil
}

func (c *COS) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.client.Object.Get(ctx, c.prefix+key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cos get %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *COS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.Object.Head(ctx, c.prefix+key, nil)
	if err == nil {
		return true, nil
	}
	if cos.IsNotFoundError(err) {
		return false, nil
	}
	return false, fmt.Errorf("cos head %s: %w", key, err)
}

func (c *COS) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		marker string
	)
	for {
		result, _, err := c.client.Bucket.Get(ctx, &cos.BucketGetOptions{
			Prefix: c.prefix + prefix,
			Marker: marker,
		})
		if err != nil {
			if cos.IsNotFoundError(err) {
				return []string{}, nil
			}
			return nil, fmt.Errorf("cos list %s: %w", prefix, err)
		}
		for _, obj := range result.Contents {
			keys = append(keys, obj.Key[len(c.prefix):])
		}
		if !result.IsTruncated || result.NextMarker == "" {
			break
		}
		marker = result.NextMarker
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *COS) URI(key string) string {
	return c.bucketURL + "/" + c.prefix + key
}

func (c *COS) Name() string { return "cos" }

func (c *COS) Ping(ctx context.Context) error {
	_, err := c.client.Bucket.Head(ctx)
	return err
}

func (c *COS) Close() error { return nil }
