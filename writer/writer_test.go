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

package writer

import (
	"context"
	"testing"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/changelog/upload"
	"go.chromium.org/changelog/upload/uploadtest"
)

// settle waits until no change set of w is being uploaded.
func settle(w *Writer) {
	for {
		w.mu.Lock()
		busy := false
		for _, e := range w.sets {
			busy = busy || e.fut != nil
		}
		w.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWriter(t *testing.T) {
	t.Parallel()

	ftt.Run(`Writer`, t, func(t *ftt.Test) {
		ctx := gologger.StdConfig.Use(context.Background())
		up := &uploadtest.Uploader{}
		timer := &uploadtest.ManualTimer{}
		noRetry := upload.NoRetry
		uploadOpts := upload.Options{
			BatchItemsMax: 1,
			BatchAgeMax:   upload.Unbounded,
			Retry:         &noRetry,
			Timer:         timer,
			ErrorFn:       upload.ErrorFnQuiet,
			DropFn:        upload.DropFnQuiet,
		}
		var opts Options

		newStorage := func() *Storage {
			s, err := New(ctx, up, &uploadOpts, &opts)
			assert.NoErr(t, err)
			return s
		}

		t.Run(`persists a single change set`, func(t *ftt.Test) {
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			from := w.NextSequenceNumber()
			assert.Loosely(t, from, should.Equal[upload.SequenceNumber](0))
			assert.NoErr(t, w.Append(ctx, []byte("abc")))
			assert.NoErr(t, w.Append(ctx, []byte("d")))

			f, err := w.Persist(from)
			assert.NoErr(t, err)
			res, err := f.Wait(ctx)
			assert.NoErr(t, err)
			assert.Loosely(t, res.From, should.Equal[upload.SequenceNumber](0))
			assert.Loosely(t, res.To, should.Equal[upload.SequenceNumber](1))
			assert.Loosely(t, res.Locations, should.HaveLength(1))
			assert.Loosely(t, res.Locations[0].Offset, should.Equal[int64](uploadtest.HeaderSize))
			assert.Loosely(t, res.Locations[0].Handle.Size, should.Equal[int64](uploadtest.HeaderSize+4))

			batches := up.Batches()
			assert.Loosely(t, batches, should.HaveLength(1))
			assert.Loosely(t, string(batches[0][0].ChangeSets[0].Payload), should.Equal("abcd"))
		})

		t.Run(`sequence numbers only advance with changes`, func(t *ftt.Test) {
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			assert.Loosely(t, w.NextSequenceNumber(), should.Equal[upload.SequenceNumber](0))
			assert.Loosely(t, w.NextSequenceNumber(), should.Equal[upload.SequenceNumber](0))
			assert.NoErr(t, w.Append(ctx, []byte("x")))
			assert.Loosely(t, w.NextSequenceNumber(), should.Equal[upload.SequenceNumber](1))
		})

		t.Run(`several change sets share one task`, func(t *ftt.Test) {
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			from := w.NextSequenceNumber()
			assert.NoErr(t, w.Append(ctx, []byte("aa")))
			w.NextSequenceNumber()
			assert.NoErr(t, w.Append(ctx, []byte("bbb")))

			f, err := w.Persist(from)
			assert.NoErr(t, err)
			res, err := f.Wait(ctx)
			assert.NoErr(t, err)
			assert.Loosely(t, res.Locations, should.Match([]Location{
				{From: 0, To: 1, Handle: res.Locations[0].Handle, Offset: uploadtest.HeaderSize},
				{From: 1, To: 2, Handle: res.Locations[0].Handle, Offset: uploadtest.HeaderSize + 2},
			}))
			assert.Loosely(t, up.Calls(), should.Equal(1))

			t.Run(`and are not uploaded again`, func(t *ftt.Test) {
				settle(w)
				f, err := w.Persist(from)
				assert.NoErr(t, err)
				again, err := f.Wait(ctx)
				assert.NoErr(t, err)
				assert.Loosely(t, again.Locations, should.Match(res.Locations))
				assert.Loosely(t, up.Calls(), should.Equal(1))
			})

			t.Run(`Truncate drops old change sets`, func(t *ftt.Test) {
				w.Truncate(1)
				f, err := w.Persist(0)
				assert.NoErr(t, err)
				res, err := f.Wait(ctx)
				assert.NoErr(t, err)
				assert.Loosely(t, res.Locations, should.HaveLength(1))
				assert.Loosely(t, res.Locations[0].From, should.Equal[upload.SequenceNumber](1))
			})
		})

		t.Run(`failed change sets are retried by the next Persist`, func(t *ftt.Test) {
			up.Err = uploadtest.FailAlways()
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			assert.NoErr(t, w.Append(ctx, []byte("abc")))
			f, err := w.Persist(0)
			assert.NoErr(t, err)
			_, err = f.Wait(ctx)
			assert.Loosely(t, err, should.ErrLike("injected upload failure"))

			settle(w)
			up.Err = nil
			f, err = w.Persist(0)
			assert.NoErr(t, err)
			res, err := f.Wait(ctx)
			assert.NoErr(t, err)
			assert.Loosely(t, res.Locations, should.HaveLength(1))
			assert.Loosely(t, up.Calls(), should.Equal(2))
		})

		t.Run(`preemptive persist`, func(t *ftt.Test) {
			opts.PreemptivePersistBytes = 5
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			assert.NoErr(t, w.Append(ctx, []byte("abc")))
			w.NextSequenceNumber()
			assert.Loosely(t, up.Calls(), should.BeZero)
			assert.NoErr(t, w.Append(ctx, []byte("def")))

			settle(w)
			assert.Loosely(t, up.Batches(), should.HaveLength(1))
			assert.Loosely(t, up.Batches()[0][0].ChangeSets, should.HaveLength(2))

			f, err := w.Persist(0)
			assert.NoErr(t, err)
			res, err := f.Wait(ctx)
			assert.NoErr(t, err)
			assert.Loosely(t, res.Locations, should.HaveLength(2))
			assert.Loosely(t, up.Calls(), should.Equal(1))
		})

		t.Run(`Append waits for upload capacity`, func(t *ftt.Test) {
			uploadOpts.BatchItemsMax = upload.Unbounded
			uploadOpts.MaxBytesInFlight = 4
			s := newStorage()
			defer s.Close()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			assert.NoErr(t, w.Append(ctx, []byte("abcd")))
			f, err := w.Persist(0)
			assert.NoErr(t, err)

			tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			assert.Loosely(t, w.Append(tctx, []byte("e")), should.ErrLike("waiting for upload capacity"))

			assert.Loosely(t, timer.Trigger(), should.Equal(1))
			_, err = f.Wait(ctx)
			assert.NoErr(t, err)
			assert.NoErr(t, w.Append(ctx, []byte("e")))
		})

		t.Run(`writer IDs`, func(t *ftt.Test) {
			s := newStorage()
			defer s.Close()

			w, err := s.NewWriter("w")
			assert.NoErr(t, err)
			_, err = s.NewWriter("w")
			assert.Loosely(t, err, should.ErrLike("already exists"))
			_, err = s.NewWriter("")
			assert.Loosely(t, err, should.ErrLike("empty"))

			assert.NoErr(t, w.Close())
			assert.Loosely(t, w.Append(ctx, []byte("x")), should.Equal(ErrWriterClosed))
			_, err = w.Persist(0)
			assert.Loosely(t, err, should.Equal(ErrWriterClosed))

			_, err = s.NewWriter("w")
			assert.NoErr(t, err)
		})

		t.Run(`Close fails queued uploads`, func(t *ftt.Test) {
			uploadOpts.BatchItemsMax = upload.Unbounded
			s := newStorage()
			w, err := s.NewWriter("w")
			assert.NoErr(t, err)

			assert.NoErr(t, w.Append(ctx, []byte("x")))
			f, err := w.Persist(0)
			assert.NoErr(t, err)
			assert.NoErr(t, s.Close())

			_, err = f.Wait(ctx)
			assert.Loosely(t, errors.Is(err, upload.ErrClosed), should.BeTrue)

			_, err = s.NewWriter("other")
			assert.Loosely(t, err, should.Equal(upload.ErrClosed))
		})

		t.Run(`bad options`, func(t *ftt.Test) {
			_, err := New(ctx, up, &uploadOpts, &Options{PreemptivePersistBytes: -3})
			assert.Loosely(t, err, should.ErrLike("PreemptivePersistBytes"))
		})
	})
}
