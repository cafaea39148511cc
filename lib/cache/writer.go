// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"log/slog"
	"sync"
)

// Writer mirrors live lookup results into the cache from a background
// goroutine, so request handling never waits on the database. Writes
// that fail or do not fit in the queue are logged and dropped.
type Writer struct {
	cache  *Cache
	logger *slog.Logger
	queue  chan writeJob
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

type writeJob struct {
	table   *Table
	records []Record
	// flushed, when set, marks a flush barrier instead of a write.
	flushed chan struct{}
}

// NewWriter starts a writer with room for depth pending batches.
func NewWriter(cache *Cache, logger *slog.Logger, depth int) *Writer {
	if depth <= 0 {
		depth = 256
	}
	w := &Writer{
		cache:  cache,
		logger: logger,
		queue:  make(chan writeJob, depth),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.queue {
		if job.flushed != nil {
			close(job.flushed)
			continue
		}
		if err := job.table.Store(context.Background(), job.records...); err != nil {
			w.logger.Warn("cache write failed",
				"kind", job.table.Kind(),
				"records", len(job.records),
				"error", err,
			)
		}
	}
}

// Enqueue schedules records of kind for storage. It never blocks.
func (w *Writer) Enqueue(kind string, records []Record) {
	if len(records) == 0 {
		return
	}
	table := w.cache.Table(kind)
	if table == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- writeJob{table: table, records: records}:
	default:
		w.logger.Warn("cache write queue full, dropping results", "kind", kind, "records", len(records))
	}
}

// Flush waits until every batch enqueued before the call is written.
func (w *Writer) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	select {
	case w.queue <- writeJob{flushed: flushed}:
	case <-ctx.Done():
		w.mu.Unlock()
		return ctx.Err()
	}
	w.mu.Unlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}
