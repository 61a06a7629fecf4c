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

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/changelog/upload"
)

// Location is where a persisted change set lives.
type Location struct {
	From   upload.SequenceNumber
	To     upload.SequenceNumber
	Handle upload.Handle
	Offset int64
}

// Persisted describes the durable changes of a writer in [From, To).
type Persisted struct {
	From upload.SequenceNumber
	To   upload.SequenceNumber

	// Locations are ordered by sequence number. Several locations may share
	// one handle.
	Locations []Location
}

// Future is the outcome of Writer.Persist.
type Future struct {
	from, to upload.SequenceNumber
	parts    []part
}

// part is one change set covered by a Future: either already durable (loc)
// or being uploaded (fut).
type part struct {
	cs  *upload.ChangeSet
	fut *upload.Future
	loc *Location
}

// Wait blocks until every covered change set is durable, one of their
// uploads failed, or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Persisted, error) {
	ret := &Persisted{From: f.from, To: f.to, Locations: make([]Location, 0, len(f.parts))}
	for _, p := range f.parts {
		if p.loc != nil {
			ret.Locations = append(ret.Locations, *p.loc)
			continue
		}
		res, err := p.fut.Wait(ctx)
		if err != nil {
			return nil, errors.Annotate(err, "persisting %s", p.cs).Err()
		}
		off, err := offsetOf(p.fut.Task(), p.cs, res)
		if err != nil {
			return nil, err
		}
		ret.Locations = append(ret.Locations, Location{
			From:   p.cs.From,
			To:     p.cs.To,
			Handle: res.Handle,
			Offset: off,
		})
	}
	return ret, nil
}

func offsetOf(t *upload.Task, cs *upload.ChangeSet, res *upload.Result) (int64, error) {
	for i, c := range t.ChangeSets {
		if c == cs {
			return res.Offsets[i], nil
		}
	}
	return 0, errors.Reason("change set %s is not part of task %s", cs, t).Err()
}
