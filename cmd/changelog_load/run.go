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

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	log "go.chromium.org/luci/common/logging"

	"go.chromium.org/changelog/config"
	"go.chromium.org/changelog/upload"
	"go.chromium.org/changelog/writer"
)

type cmdRunLoad struct {
	subcommands.CommandRunBase

	path   string
	params loadParams
	size   string
}

var subcommandRun = subcommands.Command{
	UsageLine: "run -config <path> [-writers N] [-changes N] [-size S] [-persist-every N]",
	ShortDesc: "Appends synthetic changes from concurrent writers and persists them.",
	CommandRun: func() subcommands.CommandRun {
		var cmd cmdRunLoad

		cmd.Flags.StringVar(&cmd.path, "config", "", "Path to the YAML configuration.")
		cmd.Flags.IntVar(&cmd.params.writers, "writers", 4, "Number of concurrent writers.")
		cmd.Flags.IntVar(&cmd.params.changes, "changes", 100, "Number of changes each writer appends.")
		cmd.Flags.StringVar(&cmd.size, "size", "1KiB", "Size of each change.")
		cmd.Flags.IntVar(&cmd.params.persistEvery, "persist-every", 10,
			"Persist after this many changes. 0 persists only at the end.")

		return &cmd
	},
}

func (cmd *cmdRunLoad) Run(baseApp subcommands.Application, args []string, _ subcommands.Env) int {
	c := getApplication(baseApp)

	cfg, err := loadConfig(cmd.path)
	if err != nil {
		renderErr(c, err)
		return 1
	}
	size, err := humanize.ParseBytes(cmd.size)
	if err != nil {
		renderErr(c, errors.Annotate(err, "bad -size").Err())
		return 1
	}
	cmd.params.changeSize = int(size)

	st, err := runLoad(c, cfg, cmd.params)
	if err != nil {
		renderErr(c, err)
		return 1
	}
	fmt.Println(st)
	return 0
}

// loadParams shapes the synthetic load.
type loadParams struct {
	writers      int
	changes      int
	changeSize   int
	persistEvery int
}

// loadStats summarizes a load run.
type loadStats struct {
	changes   int
	bytes     int64
	artifacts int
	elapsed   time.Duration
}

func (s *loadStats) String() string {
	rate := "n/a"
	if secs := s.elapsed.Seconds(); secs > 0 {
		rate = humanize.IBytes(uint64(float64(s.bytes)/secs)) + "/s"
	}
	return fmt.Sprintf("persisted %s change(s), %s in %d artifact(s) in %s (%s)",
		humanize.Comma(int64(s.changes)), humanize.IBytes(uint64(s.bytes)), s.artifacts, s.elapsed, rate)
}

// runLoad opens the configured store and drives `p` through a writer.Storage.
func runLoad(c context.Context, cfg *config.Config, p loadParams) (*loadStats, error) {
	if p.writers <= 0 || p.changes <= 0 || p.changeSize <= 0 {
		return nil, errors.Reason("writers, changes and size must be positive").Err()
	}

	store, err := cfg.OpenStore(c)
	if err != nil {
		return nil, errors.Annotate(err, "opening store").Err()
	}
	up := cfg.NewUploader(store)

	uploadOpts := cfg.UploadOptions()
	writerOpts := cfg.WriterOptions()
	st, err := writer.New(c, up, &uploadOpts, &writerOpts)
	if err != nil {
		if cerr := up.Close(); cerr != nil {
			log.WithError(cerr).Warningf(c, "Failed to close the store.")
		}
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.WithError(err).Warningf(c, "Failed to close the change log.")
		}
	}()

	stats := &loadStats{}
	var mu sync.Mutex
	artifacts := map[string]struct{}{}

	start := clock.Now(c)
	eg, ectx := errgroup.WithContext(c)
	for i := 0; i < p.writers; i++ {
		id := fmt.Sprintf("writer-%d", i)
		eg.Go(func() error {
			res, err := drive(ectx, st, id, p)
			if err != nil {
				return errors.Annotate(err, "writer %q", id).Err()
			}
			mu.Lock()
			defer mu.Unlock()
			stats.changes += p.changes
			stats.bytes += int64(p.changes * p.changeSize)
			for _, loc := range res.Locations {
				artifacts[loc.Handle.Name] = struct{}{}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	stats.elapsed = clock.Since(c, start)
	stats.artifacts = len(artifacts)

	sched := st.Scheduler()
	log.Fields{
		"queued":   sched.QueueSize(),
		"inFlight": humanize.IBytes(uint64(sched.InFlightBytes())),
	}.Debugf(c, "Load finished.")
	return stats, nil
}

// drive appends p.changes random changes through one writer, persisting every
// p.persistEvery of them, and returns the locations of all of them.
func drive(c context.Context, st *writer.Storage, id string, p loadParams) (*writer.Persisted, error) {
	w, err := st.NewWriter(id)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	var pending []*writer.Future
	from := w.NextSequenceNumber()
	buf := make([]byte, p.changeSize)
	for i := 0; i < p.changes; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		if err := w.Append(c, buf); err != nil {
			return nil, err
		}
		// One change per change set.
		w.NextSequenceNumber()

		if p.persistEvery > 0 && (i+1)%p.persistEvery == 0 {
			f, err := w.Persist(from)
			if err != nil {
				return nil, err
			}
			pending = append(pending, f)
			from = w.NextSequenceNumber()
		}
	}
	for _, f := range pending {
		if _, err := f.Wait(c); err != nil {
			return nil, err
		}
	}

	// Uploads the remainder and collects every location.
	f, err := w.Persist(0)
	if err != nil {
		return nil, err
	}
	res, err := f.Wait(c)
	if err != nil {
		return nil, err
	}
	log.Debugf(c, "Writer %q persisted [%d, %d).", id, res.From, res.To)
	if got := upload.SequenceNumber(len(res.Locations)); got != res.To-res.From {
		return nil, errors.Reason("expected %d location(s), got %d", res.To-res.From, got).Err()
	}
	return res, nil
}
