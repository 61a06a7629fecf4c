// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gs implements storage.Store on top of Google Cloud Storage.
package gs

import (
	"context"
	"io"
	"net/http"
	"time"

	gs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"

	"go.chromium.org/changelog/storage"
)

// Store writes artifacts as objects under Base, which must name a bucket.
type Store struct {
	// Base is the bucket and optional object prefix, e.g. "gs://bucket/log".
	Base Path

	// ChunkSize is the upload chunk size of each object writer. Zero uses
	// the client library's default.
	ChunkSize int

	client *gs.Client
	owned  bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store with its own Cloud Storage client.
func New(ctx context.Context, base Path, opts ...option.ClientOption) (*Store, error) {
	if base.Bucket() == "" {
		return nil, errors.Reason("%q does not name a bucket", base).Err()
	}
	client, err := gs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "creating Cloud Storage client").Err()
	}
	return &Store{Base: base, client: client, owned: true}, nil
}

// NewWithClient creates a Store using an existing client. Close does not
// close the client.
func NewWithClient(client *gs.Client, base Path) *Store {
	return &Store{Base: base, client: client}
}

func (s *Store) object(name string) (*gs.ObjectHandle, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	bucket, path := s.Base.Concat(name).Split()
	return s.client.Bucket(bucket).Object(path), nil
}

// Create implements storage.Store.
//
// The object is committed when the writer is closed. Objects are never
// overwritten.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	obj, err := s.object(name)
	if err != nil {
		return nil, err
	}
	// Canceling the writer's context aborts the upload without creating the
	// object.
	wctx, cancel := context.WithCancel(ctx)
	w := obj.If(gs.Conditions{DoesNotExist: true}).NewWriter(wctx)
	w.ContentType = "application/octet-stream"
	if s.ChunkSize > 0 {
		w.ChunkSize = s.ChunkSize
	}
	return &writer{Writer: w, cancel: cancel}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	obj, err := s.object(name)
	if err != nil {
		return err
	}
	return retry.Retry(ctx, transient.Only(retry.Default), func() error {
		if err := obj.Delete(ctx); err != nil {
			// Delete failed because the object did not exist.
			if errors.Is(err, gs.ErrObjectNotExist) || statusCode(err) == http.StatusNotFound {
				return nil
			}
			return classify(err)
		}
		return nil
	}, func(err error, d time.Duration) {
		logging.Fields{
			logging.ErrorKey: err,
			"delay":          d,
			"bucket":         obj.BucketName(),
			"path":           obj.ObjectName(),
		}.Warningf(ctx, "Transient error deleting GS file. Retrying...")
	})
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

type writer struct {
	*gs.Writer

	cancel context.CancelFunc
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	return n, classify(err)
}

func (w *writer) Close() error {
	defer w.cancel()
	return classify(w.Writer.Close())
}

// Abort implements storage.Aborter.
func (w *writer) Abort() error {
	w.cancel()
	if err := w.Writer.Close(); err == nil {
		// The upload had already completed.
		return errors.New("object was committed before the abort")
	}
	return nil
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// classify tags errors which are worth retrying with transient.Tag.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch code := statusCode(err); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return transient.Tag.Apply(err)
	case code != 0:
		return err
	case errors.Is(err, context.Canceled):
		return err
	}
	// Not an API error: connection resets, timeouts and the like.
	return transient.Tag.Apply(err)
}
