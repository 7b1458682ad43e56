package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"dental-insights-go/internal/logger"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable reports that the object store rejected the write or
// could not be reached.
var ErrUnavailable = errors.New("object storage unavailable")

var contentTypes = map[string]string{
	".m4a": "audio/mp4",
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

type Config struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	SignedURLTTL    time.Duration
}

// objectBucket is the slice of the OSS SDK the store actually uses.
type objectBucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	SignURL(objectKey string, method oss.HTTPMethod, expiredInSec int64, options ...oss.Option) (string, error)
}

// Store uploads audio buffers to an OSS bucket and hands back
// time-limited signed GET URLs.
type Store struct {
	bucket objectBucket
	ttl    time.Duration
	now    func() time.Time
	log    *logrus.Entry
}

func New(cfg Config) (*Store, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("oss credentials not configured")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("oss bucket not configured")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", cfg.Bucket, err)
	}
	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		bucket: bucket,
		ttl:    ttl,
		now:    time.Now,
		log:    logger.New().WithComponent("storage"),
	}, nil
}

// Upload writes the audio buffer under a timestamp-prefixed key so
// concurrent callers never collide, then signs a GET URL valid for the
// configured TTL.
func (s *Store) Upload(data []byte, filename string) (string, error) {
	key := fmt.Sprintf("recordings/%d_%s", s.now().Unix(), filename)
	ct := contentTypeFor(filename)

	if err := s.bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(ct)); err != nil {
		s.log.WithError(err).WithField("key", key).Error("put object failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url, err := s.bucket.SignURL(key, oss.HTTPGet, int64(s.ttl/time.Second))
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("sign url failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.WithFields(logrus.Fields{"key": key, "content_type": ct, "bytes": len(data)}).Info("audio uploaded")
	return url, nil
}

// contentTypeFor maps the file extension to a MIME type. Unknown
// extensions degrade to a generic binary type, they are not an error.
func contentTypeFor(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
