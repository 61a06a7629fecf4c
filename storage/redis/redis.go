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

// Package redis implements storage.Store on top of a Redis server.
//
// Every artifact is a single string key, buffered in memory and written with
// SET NX when its writer is closed.
package redis

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/gomodule/redigo/redis"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/storage"
)

// Store keeps artifacts in Redis.
type Store struct {
	// Pool supplies connections.
	Pool *redis.Pool
	// KeyPrefix is prepended to every artifact name to form its key.
	KeyPrefix string
}

var _ storage.Store = (*Store)(nil)

// New returns a Store talking to the server at `addr`.
func New(addr, keyPrefix string) *Store {
	return &Store{
		Pool: &redis.Pool{
			MaxIdle:     8,
			IdleTimeout: 5 * time.Minute,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr)
			},
		},
		KeyPrefix: keyPrefix,
	}
}

func (s *Store) key(name string) string { return s.KeyPrefix + name }

func (s *Store) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := s.Pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "connecting to redis").Err()
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	return &artifact{ctx: ctx, s: s, name: name}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	_, err := s.do(ctx, "DEL", s.key(name))
	return errors.Annotate(err, "deleting %q", name).Err()
}

// Get returns the contents of the artifact `name`, or nil if there is none.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := redis.Bytes(s.do(ctx, "GET", s.key(name)))
	if err == redis.ErrNil {
		return nil, nil
	}
	return data, errors.Annotate(err, "reading %q", name).Err()
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.Pool.Close()
}

type artifact struct {
	ctx  context.Context
	s    *Store
	name string
	buf  bytes.Buffer
	done bool
}

func (a *artifact) Write(p []byte) (int, error) {
	if a.done {
		return 0, errors.Reason("artifact %q is already committed", a.name).Err()
	}
	return a.buf.Write(p)
}

// Abort implements storage.Aborter. Nothing was sent to the server yet.
func (a *artifact) Abort() error {
	a.done = true
	a.buf.Reset()
	return nil
}

// Close writes the artifact. It fails if the artifact already exists.
func (a *artifact) Close() error {
	if a.done {
		return nil
	}
	a.done = true
	_, err := redis.String(a.s.do(a.ctx, "SET", a.s.key(a.name), a.buf.Bytes(), "NX"))
	if err == redis.ErrNil {
		return errors.Reason("artifact %q already exists", a.name).Err()
	}
	return errors.Annotate(err, "committing %q", a.name).Err()
}
