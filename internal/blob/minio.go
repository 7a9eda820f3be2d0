// Package blob provides the content-addressable blob store backing document
// content. Objects are keyed by their SHA-256, so writing identical bytes
// twice lands on the same object.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docuvault/engine/internal/store"
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check blob bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create blob bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// HashContent returns the hex SHA-256 of the content.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectKey renders the storage key for a content hash.
func ObjectKey(hash string) string {
	return "sha256/" + hash
}

// Put writes the content and returns its pointer. Re-writing existing
// content is a cheap overwrite of the same object.
func (s *MinioStore) Put(ctx context.Context, data []byte) (store.ContentPointer, error) {
	hash := HashContent(data)
	key := ObjectKey(hash)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return store.ContentPointer{}, fmt.Errorf("put blob %s: %w", key, err)
	}
	return store.ContentPointer{
		BlobKey:   key,
		SizeBytes: int64(len(data)),
		Hash:      hash,
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}
