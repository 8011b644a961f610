package artifact

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/agenthands/alignoracle/internal/config"
)

// S3Store keeps one object per artifact at <runID>/<path> in an
// S3-compatible bucket. The bucket is created on first use.
type S3Store struct {
	mc     *minio.Client
	bucket string
	region string

	once      sync.Once
	bucketErr error
}

// NewS3Store builds the client without contacting the endpoint.
func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	required := []struct{ field, value string }{
		{"artifacts.s3.endpoint", cfg.Endpoint},
		{"artifacts.s3.bucket", cfg.Bucket},
		{"artifacts.s3.access_key", cfg.AccessKey},
		{"artifacts.s3.secret_key", cfg.SecretKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &config.ConfigurationError{Field: r.field, Reason: "required"}
		}
	}
	region := cmp.Or(strings.TrimSpace(cfg.Region), "us-east-1")

	mc, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for %s: %w", cfg.Endpoint, err)
	}
	return &S3Store{mc: mc, bucket: strings.TrimSpace(cfg.Bucket), region: region}, nil
}

func (s *S3Store) ready(ctx context.Context) error {
	s.once.Do(func() {
		ok, err := s.mc.BucketExists(ctx, s.bucket)
		switch {
		case err != nil:
			s.bucketErr = err
		case !ok:
			s.bucketErr = s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		}
	})
	if s.bucketErr != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, s.bucketErr)
	}
	return nil
}

// Put uploads content as a single object. Artifacts are small, so the payload
// is sent unsigned instead of with chunked streaming signatures.
func (s *S3Store) Put(ctx context.Context, runID, path string, content []byte) error {
	run, rel, err := cleanKey(runID, path)
	if err != nil {
		return err
	}
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err = s.mc.PutObject(ctx, s.bucket, run+"/"+rel, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType(rel), DisableContentSha256: true})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", run, rel, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, runID, path string) ([]byte, error) {
	run, rel, err := cleanKey(runID, path)
	if err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, run+"/"+rel, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3NotFound(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s3NotFound(err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, runID string) ([]string, error) {
	run := strings.TrimSpace(runID)
	if run == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	prefix := run + "/"
	var out []string
	for obj := range s.mc.ListObjectsIter(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			if err := s3NotFound(obj.Err); err == ErrNotFound {
				return nil, nil
			}
			return nil, obj.Err
		}
		if rel := strings.TrimPrefix(obj.Key, prefix); rel != "" {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

// s3NotFound maps missing key and missing bucket responses to ErrNotFound.
func s3NotFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case minio.NoSuchKey, minio.NoSuchBucket:
		return ErrNotFound
	}
	return err
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
