// Package artifact fetches the offline-produced scoring artifacts (model
// weights and calibrated threshold) from local disk or S3.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Fetcher reads an artifact by URI
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

var ErrUnsupportedScheme = errors.New("unsupported artifact scheme")

// Store resolves local paths, file:// and s3:// URIs. The S3 client is
// created lazily so edge devices without AWS credentials never touch it.
type Store struct {
	Region string
	S3     s3iface.S3API
}

// NewStore creates a Store for the given AWS region
func NewStore(region string) *Store {
	return &Store{Region: region}
}

// Fetch returns the full artifact body
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive)
		return readFile(uri)
	}

	switch u.Scheme {
	case "file":
		return readFile(u.Path)
	case "s3":
		return s.fetchS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 artifact location s3://%s/%s", bucket, key)
	}

	if s.S3 == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(s.Region),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}
		s.S3 = s3.New(sess)
	}

	result, err := s.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return content, nil
}
