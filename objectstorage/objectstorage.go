package objectstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/masa23/mailsync/config"
)

// ErrNotFound is returned by Get when no object exists for the key.
var ErrNotFound = errors.New("object not found")

// Blobs stores attachment payloads outside the database.
type Blobs interface {
	// Put stores data and returns the key that refers to it.
	Put(ctx context.Context, data []byte, name string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// 現在の時刻でオブジェクトのキーを生成する
// YYYY/MM/DD/UUID/name
func GenerateObjectKey(now time.Time, name string) string {
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s",
		now.Year(), now.Month(), now.Day(),
		uuid.New().String(),
		sanitizeName(name))
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "attachment"
	}
	return name
}

// Open returns the Blobs implementation selected by conf.Type.
func Open(conf config.ObjectStorage) (Blobs, error) {
	switch conf.Type {
	case "", "s3":
		client, err := NewS3Client(conf)
		if err != nil {
			return nil, err
		}
		return NewBucket(client, conf.Bucket, conf.Compress), nil
	case "local":
		return NewDir(conf.Dir)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown object storage type %q", conf.Type)
	}
}
