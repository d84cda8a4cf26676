package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taskpipe/internal/record"
)

type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

func (c ObjectStoreConfig) Validate() error {
	var problems []string
	if c.Endpoint == "" {
		problems = append(problems, "S3_ENDPOINT is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		problems = append(problems, "S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if c.Bucket == "" {
		problems = append(problems, "S3_BUCKET is required")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// objectPutter is the subset of *minio.Client the sink uses.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStore uploads each record as a JSON object to a MinIO/S3 bucket.
type ObjectStore struct {
	client objectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

func NewMinIOClient(cfg ObjectStoreConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the bucket when missing.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg ObjectStoreConfig) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
}

func NewObjectStore(client objectPutter, cfg ObjectStoreConfig, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
}

func (s *ObjectStore) Save(ctx context.Context, rec record.ExecutionRecord) error {
	body, err := record.Marshal(rec, 4)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	key := s.objectKey(record.RunIDFromContext(ctx), time.Now())
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	s.logger.Info("data persisted", "bucket", s.bucket, "key", key)
	return nil
}

// objectKey is <prefix>/<yyyy/mm/dd>/<run id>.json.
func (s *ObjectStore) objectKey(runID string, now time.Time) string {
	if runID == "" {
		runID = uuid.NewString()
	}
	return path.Join(s.prefix, now.UTC().Format("2006/01/02"), runID+".json")
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
