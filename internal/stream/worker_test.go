package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncSink is a goroutine-safe recording sink.
type syncSink struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
}

func (s *syncSink) SendChunk(p []byte, off, n int, pts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.payloads = append(s.payloads, append([]byte{}, p[off:off+n]...))
	return nil
}

func (s *syncSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *syncSink) chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

// scriptSource runs a caller-provided read function.
type scriptSource struct {
	kind Kind
	next func(ctx context.Context) (Chunk, error)
}

func (s *scriptSource) Kind() Kind { return s.kind }

func (s *scriptSource) Next(ctx context.Context) (Chunk, error) { return s.next(ctx) }

func TestWorkerStartWithoutSourceIsNoop(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindVideo, target)

	require.NoError(t, w.Start())
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, target.count())

	// Still idle: a second Start is equally fine.
	require.NoError(t, w.Start())
	w.Stop()
}

func TestWorkerStopIsIdempotentFromAnyState(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindAudio, target)

	// Never started.
	w.Stop()
	w.Stop()

	ch := make(chan Chunk)
	require.NoError(t, w.SetSource(NewChanSource(KindAudio, ch)))
	require.NoError(t, w.Start())

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()
	w.Stop()

	assert.NoError(t, w.Fault())
}

func TestWorkerPreservesChunkOrder(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindVideo, target)

	const total = 200
	ch := make(chan Chunk, total)
	for i := range total {
		ch <- Chunk{Data: []byte{byte(i), byte(i >> 8)}, PTS: uint64(i)}
	}
	close(ch)

	require.NoError(t, w.SetSource(NewChanSource(KindVideo, ch)))
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return target.count() == total },
		2*time.Second, 5*time.Millisecond)

	chunks := target.chunks()
	for i, chunk := range chunks {
		require.Equal(t, []byte{byte(i), byte(i >> 8)}, chunk, "chunk %d out of order", i)
	}
	w.Stop()
	assert.NoError(t, w.Fault())
}

func TestWorkerNoSinkCallsAfterStop(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindVideo, target)

	// A source that always has data ready.
	src := &scriptSource{kind: KindVideo, next: func(ctx context.Context) (Chunk, error) {
		select {
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		default:
			return Chunk{Data: []byte{1}}, nil
		}
	}}
	require.NoError(t, w.SetSource(src))
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return target.count() > 0 },
		time.Second, time.Millisecond)

	w.Stop()
	seen := target.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, target.count(), "sink received chunks after Stop returned")
}

func TestWorkerCleanExitOnEndOfStream(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindAudio, target)

	ch := make(chan Chunk, 1)
	ch <- Chunk{Data: []byte{42}}
	close(ch)

	require.NoError(t, w.SetSource(NewChanSource(KindAudio, ch)))
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return target.count() == 1 },
		time.Second, time.Millisecond)
	w.Stop()
	assert.NoError(t, w.Fault())

	// Back to idle: restartable.
	require.NoError(t, w.SetSource(nil))
}

func TestWorkerFaultsOnUnrecoverableSourceError(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindVideo, target)

	readErr := errors.New("bus dropped")
	src := &scriptSource{kind: KindVideo, next: func(ctx context.Context) (Chunk, error) {
		return Chunk{}, readErr
	}}
	require.NoError(t, w.SetSource(src))

	var faultMu sync.Mutex
	var faulted error
	w.onFault = func(kind Kind, err error) {
		faultMu.Lock()
		faulted = err
		faultMu.Unlock()
	}

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.Fault() != nil },
		time.Second, time.Millisecond)

	var fault *StreamFault
	require.True(t, errors.As(w.Fault(), &fault))
	assert.Equal(t, KindVideo, fault.Kind)
	assert.True(t, errors.Is(fault, readErr))

	faultMu.Lock()
	assert.NotNil(t, faulted)
	faultMu.Unlock()

	assert.Zero(t, target.count())
	w.Stop()
}

func TestWorkerRetriesRecoverableErrors(t *testing.T) {
	target := &syncSink{}
	w := NewWorker(KindVideo, target)

	attempts := 0
	src := &scriptSource{kind: KindVideo, next: func(ctx context.Context) (Chunk, error) {
		attempts++
		if attempts <= 2 {
			return Chunk{}, Recoverable(errors.New("transient glitch"))
		}
		if attempts == 3 {
			return Chunk{Data: []byte{7}}, nil
		}
		return Chunk{}, io.EOF
	}}
	require.NoError(t, w.SetSource(src))
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return target.count() == 1 },
		time.Second, time.Millisecond)
	w.Stop()
	assert.NoError(t, w.Fault())
}

func TestWorkerFaultsOnSinkError(t *testing.T) {
	target := &syncSink{sendErr: errors.New("disk full")}
	w := NewWorker(KindAudio, target)

	ch := make(chan Chunk, 1)
	ch <- Chunk{Data: []byte{1}}
	require.NoError(t, w.SetSource(NewChanSource(KindAudio, ch)))
	require.NoError(t, w.Start())

	require.Eventually(t, func() bool { return w.Fault() != nil },
		time.Second, time.Millisecond)

	var fault *StreamFault
	require.True(t, errors.As(w.Fault(), &fault))
	assert.Equal(t, KindAudio, fault.Kind)
	w.Stop()
}

func TestWorkerSetSourceWhileRunningFails(t *testing.T) {
	w := NewWorker(KindVideo, &syncSink{})

	ch := make(chan Chunk)
	require.NoError(t, w.SetSource(NewChanSource(KindVideo, ch)))
	require.NoError(t, w.Start())
	defer w.Stop()

	err := w.SetSource(NewChanSource(KindVideo, make(chan Chunk)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkerRunning))

	// Start on a running worker is rejected too.
	assert.True(t, errors.Is(w.Start(), ErrWorkerRunning))
}

func TestWorkerRejectsKindMismatchedSource(t *testing.T) {
	w := NewWorker(KindVideo, &syncSink{})

	err := w.SetSource(NewChanSource(KindAudio, make(chan Chunk)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
