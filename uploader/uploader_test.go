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

package uploader

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/retry/transient"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/changelog/format"
	"go.chromium.org/changelog/storage/memory"
	"go.chromium.org/changelog/upload"
)

func mkTask(t testing.TB, writer string, payloads ...string) *upload.Task {
	t.Helper()
	sets := make([]*upload.ChangeSet, len(payloads))
	for i, p := range payloads {
		sets[i] = &upload.ChangeSet{
			WriterID: writer,
			From:     upload.SequenceNumber(i + 1),
			To:       upload.SequenceNumber(i + 2),
			Payload:  []byte(p),
		}
	}
	task, err := upload.NewTask(writer, sets...)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestUploader(t *testing.T) {
	t.Parallel()

	ftt.Run(`Uploader`, t, func(t *ftt.Test) {
		ctx := gologger.StdConfig.Use(context.Background())
		store := &memory.Store{}
		u := &Uploader{Store: store, Prefix: "log/", BufferSize: 16}

		tasks := []*upload.Task{
			mkTask(t, "a", "first", "second"),
			mkTask(t, "b", strings.Repeat("b", 100)),
		}

		t.Run(`writes one artifact per batch`, func(t *ftt.Test) {
			res, err := u.Upload(ctx, tasks)
			assert.NoErr(t, err)
			assert.Loosely(t, res.Handle.Name, should.HavePrefix("log/"))
			assert.Loosely(t, store.Names(), should.Match([]string{res.Handle.Name}))

			blob, ok := store.Get(res.Handle.Name)
			assert.Loosely(t, ok, should.BeTrue)
			assert.Loosely(t, res.Handle.Size, should.Equal(int64(len(blob))))

			want := int64(format.HeaderSize)
			for _, task := range tasks {
				for _, cs := range task.ChangeSets {
					want += cs.Size() + format.FrameOverhead(cs.WriterID)
				}
			}
			assert.Loosely(t, res.Handle.Size, should.Equal(want))

			r := bytes.NewReader(blob)
			for _, task := range tasks {
				offs := res.Offsets[task]
				assert.Loosely(t, offs, should.HaveLength(len(task.ChangeSets)))
				for i, cs := range task.ChangeSets {
					got, err := format.ReadFrame(r, offs[i])
					assert.NoErr(t, err)
					assert.Loosely(t, got.String(), should.Equal(cs.String()))
					assert.Loosely(t, string(got.Payload), should.Equal(string(cs.Payload)))
				}
			}

			t.Run(`with fresh names`, func(t *ftt.Test) {
				res2, err := u.Upload(ctx, tasks)
				assert.NoErr(t, err)
				assert.Loosely(t, res2.Handle.Name, should.NotEqual(res.Handle.Name))
				assert.Loosely(t, store.Names(), should.HaveLength(2))
			})
		})

		t.Run(`compression`, func(t *ftt.Test) {
			u.Compress = true
			res, err := u.Upload(ctx, tasks)
			assert.NoErr(t, err)
			blob, _ := store.Get(res.Handle.Name)
			got, err := format.ReadFrame(bytes.NewReader(blob), res.Offsets[tasks[1]][0])
			assert.NoErr(t, err)
			assert.Loosely(t, got.Size(), should.Equal[int64](100))
		})

		t.Run(`failures delete the partial artifact`, func(t *ftt.Test) {
			store.Fail = func(op memory.Op, name string) error {
				if op == memory.OpCommit {
					return errors.New("commit failed")
				}
				return nil
			}
			_, err := u.Upload(ctx, tasks)
			assert.Loosely(t, err, should.ErrLike("commit failed"))
			assert.Loosely(t, transient.Tag.In(err), should.BeTrue)
			assert.Loosely(t, store.Names(), should.BeEmpty)
			assert.Loosely(t, store.Deletes(), should.Equal(1))
		})

		t.Run(`write failures abort the artifact`, func(t *ftt.Test) {
			store.Fail = func(op memory.Op, name string) error {
				if op == memory.OpWrite {
					return errors.New("disk full")
				}
				return nil
			}
			_, err := u.Upload(ctx, tasks)
			assert.Loosely(t, err, should.ErrLike("disk full"))
			assert.Loosely(t, transient.Tag.In(err), should.BeTrue)
			assert.Loosely(t, store.Names(), should.BeEmpty)
			assert.Loosely(t, store.Aborts(), should.Equal(1))
			assert.Loosely(t, store.Deletes(), should.BeZero)

			t.Run(`falling back to Delete when the abort fails`, func(t *ftt.Test) {
				store.Fail = func(op memory.Op, name string) error {
					switch op {
					case memory.OpWrite:
						return errors.New("disk full")
					case memory.OpAbort:
						return errors.New("cannot abort")
					}
					return nil
				}
				_, err := u.Upload(ctx, tasks)
				assert.Loosely(t, err, should.ErrLike("disk full"))
				assert.Loosely(t, store.Names(), should.BeEmpty)
				assert.Loosely(t, store.Deletes(), should.Equal(1))
			})
		})

		t.Run(`canceled uploads are not transient`, func(t *ftt.Test) {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := u.Upload(cctx, tasks)
			assert.Loosely(t, errors.Is(err, context.Canceled), should.BeTrue)
			assert.Loosely(t, transient.Tag.In(err), should.BeFalse)
		})

		t.Run(`Close closes the store`, func(t *ftt.Test) {
			assert.NoErr(t, u.Close())
			_, err := u.Upload(ctx, tasks)
			assert.Loosely(t, err, should.ErrLike("store is closed"))
		})
	})
}

func TestWithScheduler(t *testing.T) {
	t.Parallel()

	ftt.Run(`Scheduler over Uploader`, t, func(t *ftt.Test) {
		ctx := gologger.StdConfig.Use(context.Background())
		store := &memory.Store{}
		noRetry := upload.NoRetry
		s, err := upload.New(ctx, &Uploader{Store: store}, &upload.Options{
			BatchItemsMax: 3,
			BatchAgeMax:   upload.Unbounded,
			Retry:         &noRetry,
		})
		assert.NoErr(t, err)

		var futs []*upload.Future
		for _, w := range []string{"x", "y", "z"} {
			f, err := s.Submit(mkTask(t, w, "payload of "+w))
			assert.NoErr(t, err)
			futs = append(futs, f)
		}

		var handle upload.Handle
		for i, f := range futs {
			res, err := f.Wait(ctx)
			assert.NoErr(t, err)
			if i == 0 {
				handle = res.Handle
			}
			assert.Loosely(t, res.Handle, should.Equal(handle))

			blob, ok := store.Get(res.Handle.Name)
			assert.Loosely(t, ok, should.BeTrue)
			cs, err := format.ReadFrame(bytes.NewReader(blob), res.Offsets[0])
			assert.NoErr(t, err)
			assert.Loosely(t, cs.WriterID, should.Equal(f.Task().WriterID))
		}

		assert.NoErr(t, s.Close())
		assert.Loosely(t, store.Names(), should.HaveLength(1))
	})
}
