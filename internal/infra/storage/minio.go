package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store keeps uploaded analysis photos in one MinIO bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

type Options struct {
	Endpoint   string
	Region     string
	BucketName string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
}

func newClient(o Options) (*minio.Client, error) {
	return minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
		Region: o.Region,
	})
}

// New connects to MinIO and creates the bucket when it is missing.
func New(ctx context.Context, o Options) (*Store, error) {
	cli, err := newClient(o)
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, o.BucketName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, o.BucketName, minio.MakeBucketOptions{Region: o.Region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: o.BucketName, region: o.Region}, nil
}

// Put uploads one image and returns its object URL.
func (s *Store) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucketName, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return s.objectURL(key), nil
}

// Remove deletes the object behind a URL previously returned by Put.
func (s *Store) Remove(ctx context.Context, objectURL string) error {
	key, err := s.keyFromURL(objectURL)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
}

// Check reports whether the bucket is reachable.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}

// objectURL is only public when the bucket policy allows anonymous reads.
func (s *Store) objectURL(key string) string {
	u := s.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", u.Scheme, u.Host, s.bucketName, key)
}

func (s *Store) keyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	prefix := "/" + s.bucketName + "/"
	if u.Host != s.client.EndpointURL().Host || !strings.HasPrefix(u.Path, prefix) {
		return "", fmt.Errorf("object url %q not in bucket %s", raw, s.bucketName)
	}
	key := strings.TrimPrefix(u.Path, prefix)
	if key == "" {
		return "", fmt.Errorf("object url %q has no key", raw)
	}
	return key, nil
}
