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

// Package badger implements storage.Store on top of an embedded Badger
// database.
//
// Every artifact is a single key. Artifacts are buffered in memory and
// committed in one transaction when their writer is closed, so a failed
// artifact never becomes visible.
package badger

import (
	"bytes"
	"context"
	"io"

	"github.com/dgraph-io/badger/v3"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/changelog/storage"
)

// keyPrefix namespaces artifact keys within the database.
const keyPrefix = "artifact/"

// Store keeps artifacts in a Badger database.
type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database in `dir`. An empty `dir` opens an
// in-memory database.
//
// Badger's own logs are routed to the logger in ctx.
func Open(ctx context.Context, dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(&logger{ctx})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotate(err, "opening badger database %q", dir).Err()
	}
	return &Store{db: db}, nil
}

func key(name string) []byte { return []byte(keyPrefix + name) }

// Create implements storage.Store.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	return &artifact{s: s, name: name}, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
	return errors.Annotate(err, "deleting %q", name).Err()
}

// Get returns the contents of the artifact `name`.
func (s *Store) Get(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, errors.Annotate(err, "reading %q", name).Err()
}

// Names returns the names of all artifacts in key order.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return names, err
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type artifact struct {
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

// Abort implements storage.Aborter. Nothing was written to the database yet.
func (a *artifact) Abort() error {
	a.done = true
	a.buf.Reset()
	return nil
}

// Close commits the artifact. It fails if the artifact already exists.
func (a *artifact) Close() error {
	if a.done {
		return nil
	}
	a.done = true
	err := a.s.db.Update(func(txn *badger.Txn) error {
		k := key(a.name)
		switch _, err := txn.Get(k); {
		case err == nil:
			return errors.Reason("artifact %q already exists", a.name).Err()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(k, a.buf.Bytes())
	})
	return errors.Annotate(err, "committing %q", a.name).Err()
}

// logger adapts badger.Logger to the context logger.
type logger struct {
	ctx context.Context
}

func (l *logger) Errorf(format string, args ...any) {
	logging.Errorf(l.ctx, "badger: "+format, args...)
}

func (l *logger) Warningf(format string, args ...any) {
	logging.Warningf(l.ctx, "badger: "+format, args...)
}

func (l *logger) Infof(format string, args ...any) {
	logging.Debugf(l.ctx, "badger: "+format, args...)
}

func (l *logger) Debugf(format string, args ...any) {
	logging.Debugf(l.ctx, "badger: "+format, args...)
}
