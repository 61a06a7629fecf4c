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
	"sort"
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/changelog/upload"
)

// ErrWriterClosed is returned by operations on a closed Writer.
var ErrWriterClosed = errors.New("writer is closed")

// Writer accumulates the changes of a single writer.
//
// Changes appended between two calls to NextSequenceNumber form one change
// set covering one sequence number. All methods are goroutine-safe.
type Writer struct {
	id string
	s  *Storage

	mu sync.Mutex
	// seq is the sequence number of the active change set.
	seq upload.SequenceNumber
	// active holds the changes appended since the last rollover.
	active []byte
	// sets are closed change sets ordered by sequence number.
	sets []*entry
	// unsubmitted is the payload size of active and of pending sets.
	unsubmitted int64
	closed      bool
}

// entry tracks a closed change set through its upload.
type entry struct {
	cs *upload.ChangeSet

	// fut is the upload in progress, nil while pending or once uploaded.
	fut *upload.Future
	// loc is set once the change set is durable.
	loc *Location
	// dropped is set by Truncate.
	dropped bool
}

// ID returns the writer ID.
func (w *Writer) ID() string { return w.id }

// NextSequenceNumber closes the active change set, if it has any changes,
// and returns the sequence number the next changes will be appended under.
func (w *Writer) NextSequenceNumber() upload.SequenceNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	return w.seq
}

// Append adds `data` to the active change set.
//
// If the shared scheduler has more bytes in flight than it allows, Append
// waits until it catches up or ctx is done.
func (w *Writer) Append(ctx context.Context, data []byte) error {
	select {
	case <-w.s.sched.Available():
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for upload capacity").Err()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.active = append(w.active, data...)
	w.unsubmitted += int64(len(data))

	if limit := w.s.opts.PreemptivePersistBytes; limit > 0 && w.unsubmitted >= limit {
		from := w.seq
		for _, e := range w.sets {
			if e.fut == nil && e.loc == nil {
				from = e.cs.From
				break
			}
		}
		logging.Debugf(ctx, "Writer %q: persisting %d byte(s) preemptively from %d.", w.id, w.unsubmitted, from)
		if _, err := w.persistLocked(from); err != nil {
			return errors.Annotate(err, "persisting preemptively").Err()
		}
	}
	return nil
}

// Persist uploads every change from sequence number `from` onwards,
// including the active change set, and returns a Future for their
// locations.
//
// Change sets which are already durable or being uploaded are not uploaded
// again.
func (w *Writer) Persist(from upload.SequenceNumber) (*Future, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWriterClosed
	}
	return w.persistLocked(from)
}

func (w *Writer) persistLocked(from upload.SequenceNumber) (*Future, error) {
	w.rolloverLocked()

	var pending []*entry
	var covered []*entry
	for _, e := range w.sets {
		if e.cs.From < from {
			continue
		}
		covered = append(covered, e)
		if e.fut == nil && e.loc == nil {
			pending = append(pending, e)
		}
	}

	if len(pending) > 0 {
		sets := make([]*upload.ChangeSet, len(pending))
		for i, e := range pending {
			sets[i] = e.cs
		}
		task, err := upload.NewTask(w.id, sets...)
		if err != nil {
			return nil, err
		}
		fut, err := w.s.sched.Submit(task)
		if err != nil {
			return nil, err
		}
		for _, e := range pending {
			e.fut = fut
			w.unsubmitted -= e.cs.Size()
		}
		w.watch(fut, pending)
	}

	f := &Future{from: from, to: w.seq, parts: make([]part, len(covered))}
	for i, e := range covered {
		f.parts[i] = part{cs: e.cs, fut: e.fut, loc: e.loc}
	}
	return f, nil
}

// watch updates the entries of a submitted task once it is resolved.
//
// Failed change sets become pending again, so the next Persist retries them.
func (w *Writer) watch(fut *upload.Future, entries []*entry) {
	w.s.watchers.Add(1)
	go func() {
		defer w.s.watchers.Done()
		<-fut.Done()
		res, err, _ := fut.Get()
		if err != nil {
			logging.WithError(err).Warningf(w.s.ctx, "Writer %q: %d change set(s) failed to upload.", w.id, len(entries))
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		for i, e := range entries {
			if e.fut != fut {
				continue
			}
			e.fut = nil
			switch {
			case e.dropped:
			case err != nil:
				w.unsubmitted += e.cs.Size()
			default:
				e.loc = &Location{From: e.cs.From, To: e.cs.To, Handle: res.Handle, Offset: res.Offsets[i]}
			}
		}
	}()
}

// rolloverLocked closes the active change set if it has changes.
func (w *Writer) rolloverLocked() {
	if len(w.active) == 0 {
		return
	}
	w.sets = append(w.sets, &entry{cs: &upload.ChangeSet{
		WriterID: w.id,
		From:     w.seq,
		To:       w.seq + 1,
		Payload:  w.active,
	}})
	w.active = nil
	w.seq++
}

// Truncate forgets all change sets entirely before sequence number `to`.
//
// Their artifacts are not deleted; they are still referenced by earlier
// Persist results.
func (w *Writer) Truncate(to upload.SequenceNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := sort.Search(len(w.sets), func(i int) bool { return w.sets[i].cs.To > to })
	for _, e := range w.sets[:i] {
		e.dropped = true
		if e.fut == nil && e.loc == nil {
			w.unsubmitted -= e.cs.Size()
		}
	}
	w.sets = append([]*entry(nil), w.sets[i:]...)
}

// Close discards all changes which were not persisted and releases the
// writer ID. Uploads in progress still resolve their futures.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.active = nil
	for _, e := range w.sets {
		e.dropped = true
	}
	w.sets = nil
	w.unsubmitted = 0
	w.s.forget(w.id)
	return nil
}
