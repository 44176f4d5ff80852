package querylog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meridianweb/meridian/internal/errs"
	"github.com/meridianweb/meridian/internal/logger"
)

// SinkConfig holds the settings for an ObjectSink.
type SinkConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string

	// Bucket receives the flushed log batches. Must already exist.
	Bucket string

	// Prefix is prepended to every object key (e.g. "querylog/prod").
	Prefix string

	// BatchSize is the number of entries buffered before an automatic
	// flush. Defaults to 100.
	BatchSize int
}

// ObjectSink is a durable consumer for the query logger's handler hook.
// It buffers entries and flushes them as newline-delimited JSON objects
// to an S3-compatible bucket.
//
// Usage:
//
//	sink, err := querylog.NewObjectSink(ctx, cfg, log)
//	qlog := querylog.New(querylog.WithHandler(sink.Handler()))
//	defer sink.Flush(context.Background())
type ObjectSink struct {
	client    *miniogo.Client
	bucket    string
	prefix    string
	batchSize int
	log       *logger.Logger

	mu  sync.Mutex
	buf []Entry
}

// NewObjectSink connects to the object store and verifies the bucket
// exists before returning.
func NewObjectSink(ctx context.Context, cfg SinkConfig, log *logger.Logger) (*ObjectSink, error) {
	if log == nil {
		log = logger.Nop()
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "querylog sink: failed to create client", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "querylog sink: cannot reach object store", err)
	}
	if !exists {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "querylog sink: bucket %q does not exist", cfg.Bucket)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}

	return &ObjectSink{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		batchSize: batch,
		log:       log,
	}, nil
}

// Handler returns the callback to register with querylog.WithHandler.
// Entries are buffered; once the batch size is reached a flush runs in
// the background. Flush failures are logged and never propagate; the
// handler contract is fire-and-forget.
func (s *ObjectSink) Handler() Handler {
	return func(e Entry) {
		s.mu.Lock()
		s.buf = append(s.buf, e)
		full := len(s.buf) >= s.batchSize
		s.mu.Unlock()

		if full {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.Flush(ctx); err != nil {
					s.log.ErrorWith("querylog sink: background flush failed", err, nil)
				}
			}()
		}
	}
}

// Flush writes all buffered entries to the bucket as one object of
// newline-delimited JSON. A no-op when the buffer is empty.
func (s *ObjectSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "querylog sink: cannot encode entry", err)
		}
	}

	key := s.objectKey(time.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key, &body, int64(body.Len()), miniogo.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		// Put the batch back so entries are not lost on a transient failure.
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		return errs.Wrap(errs.ErrKindQueryFailed, "querylog sink: upload failed", err)
	}

	s.log.With().Int("entries", len(batch)).Str("object", key).Logger().
		Debug("querylog sink: batch flushed")
	return nil
}

func (s *ObjectSink) objectKey(now time.Time) string {
	key := fmt.Sprintf("%s/%s.ndjson", now.UTC().Format("2006/01/02"), now.UTC().Format("150405.000000000"))
	if s.prefix != "" {
		return s.prefix + "/" + key
	}
	return key
}
