// Package jsonl implements the durable, append-only message log every
// session writes to: one JSON object per line, flushed in batches so a busy
// session does not fsync on every single message, but never held in memory
// past the configured batch size or flush interval.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
	"github.com/lattice-run/agentcore/runtime/agent/telemetry"
)

// Writer batches records and flushes them to an append-only file. A Writer
// owns exactly one file and must not be shared across sessions. Append is
// safe for concurrent use; the single-writer invariant sessions rely on
// comes from the caller serializing Append per session, not from this type.
type Writer struct {
	path   string
	logger telemetry.Logger

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending [][]byte
	failed  bool

	flushSignal chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Open opens (creating if absent) the JSONL file at path and starts its
// background auto-flush goroutine.
func Open(path string, cfg config.AsyncWriteConfig, logger telemetry.Logger) (*Writer, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	w := &Writer{
		path:          path,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushSignal:   make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	// Touch the file so readers can find it even before the first flush.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, runtimeerr.NewSessionError("", "jsonl.open", err)
	}
	_ = f.Close()

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Append marshals record and enqueues it for the next flush. Append returns
// the marshal error immediately but never blocks on disk I/O.
//
// If a prior flush has failed, Append still accepts new records and keeps
// trying to flush on the normal schedule — durability failures never stop
// the writer from attempting subsequent records, per the runtime's
// disk-pressure handling policy. The returned error on this call is nil;
// callers that need to know about a write failure must check Failed.
func (w *Writer) Append(record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return runtimeerr.NewSessionError("", "jsonl.marshal", err)
	}
	raw = append(raw, '\n')

	w.mu.Lock()
	w.pending = append(w.pending, raw)
	shouldFlush := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		select {
		case w.flushSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush forces any buffered records to disk immediately.
func (w *Writer) Flush() error {
	return w.flush()
}

// Close flushes remaining records and stops the background goroutine. Close
// is safe to call more than once.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.flush()
	})
	return err
}

func (w *Writer) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			_ = w.flush()
		case <-w.flushSignal:
			_ = w.flush()
		}
	}
}

func (w *Writer) flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		w.markFailed(err)
		return runtimeerr.NewSessionError("", "jsonl.flush", err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	for _, line := range batch {
		if _, err := buf.Write(line); err != nil {
			w.markFailed(err)
			return runtimeerr.NewSessionError("", "jsonl.flush", err)
		}
	}
	if err := buf.Flush(); err != nil {
		w.markFailed(err)
		return runtimeerr.NewSessionError("", "jsonl.flush", err)
	}
	if err := f.Sync(); err != nil {
		w.markFailed(err)
		return runtimeerr.NewSessionError("", "jsonl.flush", err)
	}

	w.mu.Lock()
	w.failed = false
	w.mu.Unlock()
	return nil
}

func (w *Writer) markFailed(err error) {
	w.mu.Lock()
	alreadyFailed := w.failed
	w.failed = true
	w.mu.Unlock()
	if !alreadyFailed {
		w.logger.Error(context.Background(), "jsonl flush failed, will keep attempting subsequent records", "path", w.path, "error", err.Error())
	}
}

// Failed reports whether the most recent flush attempt failed. It is a
// diagnostic signal, not a gate — Append keeps accepting records regardless.
func (w *Writer) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}
