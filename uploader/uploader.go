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

// Package uploader writes upload batches as artifacts to a storage.Store.
package uploader

import (
	"bufio"
	"context"
	"io"

	"github.com/google/uuid"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"

	"go.chromium.org/changelog/format"
	"go.chromium.org/changelog/storage"
	"go.chromium.org/changelog/upload"
)

// DefaultBufferSize is used when Uploader.BufferSize is zero.
const DefaultBufferSize = 64 * 1024

// Uploader implements upload.Uploader on top of a storage.Store.
//
// Every batch becomes one new artifact named Prefix followed by a random
// UUID, so retried batches never overwrite each other.
type Uploader struct {
	// Store receives the artifacts. Uploader closes it in Close.
	Store storage.Store

	// Prefix is prepended to every artifact name, e.g. "changelog/".
	Prefix string

	// BufferSize is the size of the write buffer in front of the store.
	BufferSize int

	// Compress enables per-frame zstd compression.
	Compress bool
}

var _ upload.Uploader = (*Uploader)(nil)

// Upload implements upload.Uploader.
//
// A failed upload never leaves a partial artifact behind when the store's
// writer implements storage.Aborter; otherwise the partial artifact is
// deleted on a best-effort basis. All failures except a canceled context are
// tagged transient.
func (u *Uploader) Upload(ctx context.Context, tasks []*upload.Task) (*upload.TasksResult, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, transient.Tag.Apply(errors.Annotate(err, "generating artifact name").Err())
	}
	name := u.Prefix + id.String()

	size, offsets, err := u.write(ctx, name, tasks)
	if err != nil {
		err = errors.Annotate(err, "writing artifact %q", name).Err()
		if ctx.Err() == nil {
			err = transient.Tag.Apply(err)
		}
		return nil, err
	}

	return &upload.TasksResult{
		Handle:  upload.Handle{Name: name, Size: size},
		Offsets: offsets,
	}, nil
}

func (u *Uploader) write(ctx context.Context, name string, tasks []*upload.Task) (size int64, offsets map[*upload.Task][]int64, err error) {
	w, err := u.Store.Create(ctx, name)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err != nil {
			u.discard(ctx, name, w)
		}
	}()

	bufSize := u.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	buf := bufio.NewWriterSize(w, bufSize)

	var flags format.Flags
	if u.Compress {
		flags |= format.FlagZstd
	}
	fw, err := format.NewWriter(buf, flags)
	if err != nil {
		return 0, nil, err
	}
	defer fw.Close()

	offsets = make(map[*upload.Task][]int64, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		offs := make([]int64, len(t.ChangeSets))
		for i, cs := range t.ChangeSets {
			if offs[i], err = fw.WriteChangeSet(cs); err != nil {
				return 0, nil, err
			}
		}
		offsets[t] = offs
	}

	if err := buf.Flush(); err != nil {
		return 0, nil, err
	}
	if err := closeNil(&w); err != nil {
		return 0, nil, err
	}
	return fw.Offset(), offsets, nil
}

// discard removes the artifact of a failed write. `w` is nil if the artifact
// was already closed.
func (u *Uploader) discard(ctx context.Context, name string, w io.WriteCloser) {
	if a, ok := w.(storage.Aborter); ok {
		aerr := a.Abort()
		if aerr == nil {
			return
		}
		logging.WithError(aerr).Debugf(ctx, "Failed to abort artifact %q, deleting it.", name)
	} else if w != nil {
		w.Close()
	}
	if derr := u.Store.Delete(ctx, name); derr != nil {
		logging.Fields{
			logging.ErrorKey: derr,
			"artifact":       name,
		}.Warningf(ctx, "Failed to delete partial artifact.")
	}
}

// closeNil closes *c and sets it to nil, so a deferred close is skipped.
func closeNil(c *io.WriteCloser) error {
	err := (*c).Close()
	*c = nil
	return err
}

// Close implements upload.Uploader.
func (u *Uploader) Close() error {
	return u.Store.Close()
}
