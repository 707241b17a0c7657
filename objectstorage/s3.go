package objectstorage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/masa23/mailsync/config"
	"github.com/valyala/gozstd"
)

const zstdSuffix = ".zstd"

// Bucket is a Blobs implementation on an S3 compatible object storage.
type Bucket struct {
	client   s3iface.S3API
	bucket   string
	compress bool
}

func NewS3Client(conf config.ObjectStorage) (*s3.S3, error) {
	s3session, err := session.NewSession(&aws.Config{
		Region:           aws.String(conf.Region),
		Endpoint:         aws.String(conf.Endpoint),
		S3ForcePathStyle: aws.Bool(conf.Endpoint != ""),
		Credentials: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     conf.AccessKey,
					SecretAccessKey: conf.SecretKey,
				},
			},
		}),
	})
	if err != nil {
		return nil, err
	}
	return s3.New(s3session), nil
}

func NewBucket(client s3iface.S3API, bucket string, compress bool) *Bucket {
	return &Bucket{client: client, bucket: bucket, compress: compress}
}

// Put uploads data. Compressed objects get the ".zstd" key suffix so Get
// can tell them apart regardless of the current setting.
func (b *Bucket) Put(ctx context.Context, data []byte, name string) (string, error) {
	key := GenerateObjectKey(time.Now(), name)
	body := data
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if b.compress {
		body = gozstd.Compress(nil, data)
		key += zstdSuffix
		contentType = "application/zstd"
	}

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s to bucket %s: %w", key, b.bucket, err)
	}
	return key, nil
}

func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, b.bucket, err)
	}

	if strings.HasSuffix(key, zstdSuffix) {
		zstd := gozstd.NewReader(resp.Body)
		return struct {
			io.Reader
			io.Closer
		}{
			Reader: zstd,
			Closer: closerFunc(func() error {
				zstd.Release()
				return resp.Body.Close()
			}),
		}, nil
	}
	return resp.Body, nil
}

// オブジェクトを消す
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s from bucket %s: %w", key, b.bucket, err)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
