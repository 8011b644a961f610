package artifact

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/alignoracle/internal/config"
)

type s3Object struct {
	body        []byte
	contentType string
	modified    time.Time
}

// fakeS3 answers the path-style subset of the S3 API the store uses.
type fakeS3 struct {
	mu         sync.Mutex
	buckets    map[string]bool
	objects    map[string]s3Object
	madeBucket int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string]s3Object{}}
}

func (f *fakeS3) bucketsMade() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.madeBucket
}

func (f *fakeS3) contentTypeOf(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key].contentType
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string
	Prefix      string
	KeyCount    int
	MaxKeys     int
	IsTruncated bool
	Contents    []listEntry
}

type listEntry struct {
	Key          string
	LastModified string
	ETag         string
	Size         int
}

func etagOf(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		f.serveBucket(w, r, bucket)
		return
	}
	if !f.buckets[bucket] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	full := bucket + "/" + key

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[full] = s3Object{body: body, contentType: r.Header.Get("Content-Type"), modified: time.Now().UTC()}
		w.Header().Set("ETag", etagOf(body))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		obj, ok := f.objects[full]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.body)))
		w.Header().Set("ETag", etagOf(obj.body))
		w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	switch {
	case r.Method == http.MethodPut:
		f.buckets[bucket] = true
		f.madeBucket++
		w.WriteHeader(http.StatusOK)
	case !f.buckets[bucket]:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
		var keys []string
		for k := range f.objects {
			if rest, ok := strings.CutPrefix(k, bucket+"/"); ok && strings.HasPrefix(rest, prefix) {
				keys = append(keys, rest)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj := f.objects[bucket+"/"+k]
			res.Contents = append(res.Contents, listEntry{
				Key:          k,
				LastModified: obj.modified.Format("2006-01-02T15:04:05.000Z"),
				ETag:         etagOf(obj.body),
				Size:         len(obj.body),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Store(config.S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "alignoracle",
		SecretKey: "alignoracle-secret",
		Bucket:    "artifacts",
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3Store(t)

	require.NoError(t, s.Put(ctx, "run-1", "a.json", []byte(`{"ok":true}`)))
	require.NoError(t, s.Put(ctx, "run-1", "/nested/b.txt", []byte("x")))
	require.NoError(t, s.Put(ctx, "run-2", "c.json", []byte("{}")))
	assert.Equal(t, 1, fake.bucketsMade())
	assert.Equal(t, "application/json", fake.contentTypeOf("artifacts/run-1/a.json"))
	assert.Equal(t, "text/plain", fake.contentTypeOf("artifacts/run-1/nested/b.txt"))

	data, err := s.Get(ctx, "run-1", "a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	_, err = s.Get(ctx, "run-1", "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))

	names, err := s.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "nested/b.txt"}, names)

	names, err = s.List(ctx, "run-3")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestS3StoreUsesExistingBucket(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3Store(t)
	fake.buckets["artifacts"] = true

	require.NoError(t, s.Put(ctx, "run-1", "a.json", []byte("{}")))
	assert.Zero(t, fake.bucketsMade())
}

func TestS3StoreRejectsBadKeysLocally(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestS3Store(t)

	assert.Error(t, s.Put(ctx, "", "a.json", nil))
	assert.Error(t, s.Put(ctx, "run-1", "../escape.json", nil))
	assert.Error(t, s.Put(ctx, "run/1", "a.json", nil))
	_, err := s.List(ctx, " ")
	assert.Error(t, err)
	assert.Zero(t, fake.bucketsMade())
}

func TestNewS3StoreRequiresSettings(t *testing.T) {
	full := config.S3Config{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}
	cases := map[string]func(*config.S3Config){
		"artifacts.s3.endpoint":   func(c *config.S3Config) { c.Endpoint = "" },
		"artifacts.s3.bucket":     func(c *config.S3Config) { c.Bucket = " " },
		"artifacts.s3.access_key": func(c *config.S3Config) { c.AccessKey = "" },
		"artifacts.s3.secret_key": func(c *config.S3Config) { c.SecretKey = "" },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := full
			mutate(&cfg)
			_, err := NewS3Store(cfg)
			var cerr *config.ConfigurationError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, field, cerr.Field)
		})
	}

	s, err := NewS3Store(full)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", s.region)
}
