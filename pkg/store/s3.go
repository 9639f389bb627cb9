package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/cachehub/mirror/pkg/types"
)

// Remote is an optional S3-backed tier for ecosystems that prefer to keep
// the payload filesystem small (artifacts are written through to S3 while
// the sidecar discipline — sidecar exists iff payload exists, TTL embedded
// in the sidecar — is preserved). It has Lookup and Put like Store, both
// taking a context, but no Evict; Store uses it as a write-through and
// local-miss fallback tier rather than adapters calling it directly.
type Remote struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewRemote creates a Remote cache tier against bucket, resolving AWS
// credentials and region via the SDK's default chain.
func NewRemote(ctx context.Context, bucket, prefix string, forcePathStyle bool) (*Remote, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
	})
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}
	return &Remote{client: client, bucket: bucket, prefix: prefix}, nil
}

func (r *Remote) dataKey(key string) string { return r.prefix + key }
func (r *Remote) metaKey(key string) string { return r.dataKey(key) + ".meta" }

// Lookup fetches the sidecar then the payload from S3, mirroring Store's
// miss semantics (absent or expired sidecar is a miss).
func (r *Remote) Lookup(ctx context.Context, key string) (Entry, error) {
	metaOut, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.metaKey(key)),
	})
	if err != nil {
		return Entry{}, ErrMiss
	}
	defer metaOut.Body.Close()

	data, err := io.ReadAll(metaOut.Body)
	if err != nil {
		return Entry{}, ErrMiss
	}
	var sc types.Sidecar
	if json.Unmarshal(data, &sc) != nil || time.Now().Unix() >= sc.Expires {
		return Entry{}, ErrMiss
	}

	dataOut, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.dataKey(key)),
	})
	if err != nil {
		return Entry{}, ErrMiss
	}
	return Entry{
		Body:        dataOut.Body,
		Size:        sc.Size,
		ContentType: sc.ContentType,
		Age:         time.Since(time.Unix(sc.CachedAt, 0)),
	}, nil
}

// Put uploads body and its sidecar to S3. A conditional PUT conflict
// (another writer already wrote the identical content-addressed key) is
// treated as success rather than an error.
func (r *Remote) Put(ctx context.Context, key string, body io.Reader, contentType string, ttl time.Duration) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("store: buffering upload: %w", err)
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.dataKey(key)),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil && !isConflict(err) {
		return fmt.Errorf("store: putting object: %w", err)
	}

	now := time.Now()
	sc := types.Sidecar{
		CachedAt:    now.Unix(),
		Expires:     now.Add(ttl).Unix(),
		Size:        int64(len(buf)),
		ContentType: contentType,
	}
	scData, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.metaKey(key)),
		Body:        bytes.NewReader(scData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("store: putting sidecar: %w", err)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't already exist, ignoring
// "already owned by you" conflicts.
func (r *Remote) EnsureBucket(ctx context.Context) error {
	_, err := r.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(r.bucket)})
	if err == nil {
		return nil
	}
	var baoby *s3types.BucketAlreadyOwnedByYou
	var bae *s3types.BucketAlreadyExists
	if errors.As(err, &baoby) || errors.As(err, &bae) {
		return nil
	}
	return fmt.Errorf("store: creating bucket: %w", err)
}

func isConflict(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == http.StatusPreconditionFailed || re.HTTPStatusCode() == http.StatusConflict
	}
	return false
}
