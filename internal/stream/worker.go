package stream

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/util"
)

const (
	// readTimeout bounds a single source read so the run loop re-checks
	// cancellation at least this often.
	readTimeout = 500 * time.Millisecond

	// maxReadRetries bounds how many consecutive recoverable read errors are
	// tolerated before the leg faults.
	maxReadRetries = 3
)

type workerState int

const (
	stateIdle workerState = iota
	stateRunning
	stateStopping
)

// Worker binds one Source to one Sink under one stream kind and pumps chunks
// on its own goroutine. Chunks are forwarded in the exact order they are read;
// there is no reordering and no cross-kind synchronization.
type Worker struct {
	kind Kind
	sink Sink

	mu     sync.Mutex
	source Source
	state  workerState
	cancel context.CancelFunc
	done   chan struct{}
	fault  error

	// onFault, if set, is invoked once from the run goroutine when the leg
	// stops on an unrecoverable error.
	onFault func(Kind, error)
}

// NewWorker creates an idle worker for the given kind and sink.
func NewWorker(kind Kind, sink Sink) *Worker {
	return &Worker{kind: kind, sink: sink}
}

func (w *Worker) Kind() Kind { return w.kind }

// Target returns the sink the worker was bound to at construction.
func (w *Worker) Target() Sink { return w.sink }

// Source returns the currently bound source, if any.
func (w *Worker) Source() Source {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.source
}

// SetSource replaces the bound source. Only valid while idle; swapping a
// running worker's source fails with ErrWorkerRunning. The previous source is
// not closed here; its disposal stays with the caller.
func (w *Worker) SetSource(src Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return errors.Wrap(ErrWorkerRunning, "cannot swap source")
	}
	if src != nil && src.Kind() != w.kind {
		return errors.Wrapf(ErrInvalidArgument, "%s source bound to %s worker", src.Kind(), w.kind)
	}
	w.source = src
	return nil
}

// Fault returns the error that stopped the last run, or nil if the worker
// stopped cleanly (end of stream or Stop).
func (w *Worker) Fault() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fault
}

// Start spawns the pump goroutine. Valid only while idle. Starting with no
// bound source is a no-op: the worker stays idle and never touches the sink.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return ErrWorkerRunning
	}
	if w.source == nil {
		util.GetLogger().Debug("Worker has no source, staying idle", "kind", w.kind.String())
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = stateRunning
	w.fault = nil

	go w.run(ctx, w.source, w.done)

	util.GetLogger().Info("Stream worker started", "kind", w.kind.String())
	return nil
}

// Stop signals cancellation and waits for the pump goroutine to exit. Safe to
// call from any goroutine, any number of times, in any state. The wait is
// bounded by the run loop's read timeout.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.state = stateStopping
		w.cancel()
	}
	done := w.done
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (w *Worker) run(ctx context.Context, src Source, done chan struct{}) {
	logger := util.GetLogger()
	var fault error

	defer func() {
		w.mu.Lock()
		w.state = stateIdle
		w.cancel = nil
		w.done = nil
		w.fault = fault
		onFault := w.onFault
		w.mu.Unlock()
		close(done)

		if fault != nil {
			logger.Error("Stream worker faulted", "kind", w.kind.String(), "error", fault)
			if onFault != nil {
				onFault(w.kind, fault)
			}
		} else {
			logger.Info("Stream worker stopped", "kind", w.kind.String())
		}
	}()

	retries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Bounded read so Stop is observed within readTimeout even when the
		// source has nothing to deliver.
		readCtx, cancelRead := context.WithTimeout(ctx, readTimeout)
		chunk, err := src.Next(readCtx)
		cancelRead()

		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				// No chunk yet, re-check cancellation and keep polling.
				continue
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, io.EOF):
				logger.Info("Stream ended", "kind", w.kind.String())
				return
			}

			if IsRecoverable(err) && retries < maxReadRetries {
				retries++
				logger.Warn("Recoverable read error, retrying",
					"kind", w.kind.String(), "attempt", retries, "error", err)
				continue
			}

			fault = &StreamFault{Kind: w.kind, Err: errors.Wrap(err, "source read")}
			return
		}
		retries = 0

		if err := SendRange(w.sink, chunk.Data, 0, len(chunk.Data), chunk.PTS); err != nil {
			fault = &StreamFault{Kind: w.kind, Err: errors.Wrap(err, "sink send")}
			return
		}
	}
}
