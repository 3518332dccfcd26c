package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Storage struct {
	client  s3API
	bucket  string
	baseURL string
	http    *http.Client
}

func NewS3Storage(ctx context.Context, region, bucket, publicBaseURL string) (*S3Storage, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return newS3Storage(s3.NewFromConfig(cfg), bucket, publicBaseURL), nil
}

func newS3Storage(client s3API, bucket, publicBaseURL string) *S3Storage {
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Storage{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3: put %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *S3Storage) Get(ctx context.Context, rawURL string) ([]byte, error) {
	key, ok := s.keyFromURL(rawURL)
	if !ok {
		return fetchHTTP(ctx, s.http, rawURL)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3: %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// keyFromURL recognises our public base URL plus the virtual-hosted and
// path-style S3 URL forms for the bucket.
func (s *S3Storage) keyFromURL(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, s.baseURL+"/") {
		return strings.TrimPrefix(rawURL, s.baseURL+"/"), true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")
	switch {
	case strings.HasPrefix(u.Host, s.bucket+".s3.") || u.Host == s.bucket+".s3.amazonaws.com":
		return path, path != ""
	case strings.HasPrefix(u.Host, "s3.") || strings.HasPrefix(u.Host, "s3-"):
		if rest, ok := strings.CutPrefix(path, s.bucket+"/"); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}
