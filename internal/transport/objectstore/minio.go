// Package objectstore uploads files to an S3-compatible bucket exposed by the
// NAS (MinIO gateway).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"nasupload/internal/transport"
	"nasupload/internal/upload"
)

var errEmptyBucket = errors.New("empty bucket")

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// Transport implements upload.Transport with minio PutObject.
type Transport struct {
	client *minio.Client
	bucket string
	region string
}

type call struct {
	id     string
	cancel context.CancelFunc
}

func New(opts Options) (*Transport, error) {
	if opts.Bucket == "" {
		return nil, errEmptyBucket
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Transport{client: client, bucket: opts.Bucket, region: opts.Region}, nil
}

// EnsureBucket creates the target bucket if it does not exist.
func (t *Transport) EnsureBucket(ctx context.Context) error {
	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := t.client.MakeBucket(ctx, t.bucket, minio.MakeBucketOptions{Region: t.region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	log.Info().Str("bucket", t.bucket).Msg("bucket created")
	return nil
}

// ObjectKey maps a destination directory and filename to an object key.
func ObjectKey(destination, filename string) string {
	return strings.TrimPrefix(path.Join("/", destination, filename), "/")
}

func (t *Transport) Start(ctx context.Context, req upload.Request, hooks upload.Hooks) upload.Handle {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		if err := t.put(ctx, req, hooks); err != nil {
			hooks.OnFailure(err)
			return
		}
		hooks.OnSuccess()
	}()
	return &call{id: req.ID, cancel: cancel}
}

func (t *Transport) Cancel(h upload.Handle) {
	if c, ok := h.(*call); ok && c != nil {
		log.Debug().Str("upload_id", c.id).Msg("cancelling object upload")
		c.cancel()
	}
}

func (t *Transport) put(ctx context.Context, req upload.Request, hooks upload.Hooks) error {
	body, err := req.Source.Open()
	if err != nil {
		return err //nolint:wrapcheck // already wrapped by the source
	}
	defer func() { _ = body.Close() }()

	contentType, sniffed := transport.DetectContentType(body)
	progress := transport.NewProgressReader(sniffed, hooks.OnProgress)
	key := ObjectKey(req.Destination, req.Filename)

	info, err := t.client.PutObject(ctx, t.bucket, key, progress, req.TotalBytes, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"upload-id": req.ID},
	})
	if err != nil {
		log.Warn().Str("upload_id", req.ID).Str("key", key).Err(err).Msg("object upload failed")
		return fmt.Errorf("put object %s: %w", key, err)
	}
	log.Debug().Str("upload_id", req.ID).Str("key", key).Str("etag", info.ETag).Int64("size", info.Size).Msg("object uploaded")
	return nil
}
