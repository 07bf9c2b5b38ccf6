// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// JetStream object store adapter

package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the object store bucket shared by workers and clients
const DefaultBucket = "cmdproxy-files"

// ObjectStore is a Store backed by a NATS JetStream object store bucket
type ObjectStore struct {
	bucket jetstream.ObjectStore
}

// NewObjectStore opens the named bucket on an established connection,
// creating the bucket when it does not exist yet
func NewObjectStore(ctx context.Context, nc *nats.Conn, bucket string) (*ObjectStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to open jetstream: %w", err)
	}

	ob, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		ob, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "cmdproxy staged files",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object store bucket %q: %w", bucket, err)
	}

	return &ObjectStore{bucket: ob}, nil
}

// Get returns the content stored under name
func (s *ObjectStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.bucket.Get(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %q: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", name, err)
	}
	return data, nil
}

// Put stores content under name, replacing any previous object
func (s *ObjectStore) Put(ctx context.Context, name string, data []byte) error {
	if _, err := s.bucket.PutBytes(ctx, name, data); err != nil {
		return fmt.Errorf("failed to put object %q: %w", name, err)
	}
	return nil
}

// Exists reports whether an object is stored under name
func (s *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.bucket.GetInfo(ctx, name)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %q: %w", name, err)
	}
	return true, nil
}
