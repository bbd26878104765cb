package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openconsole/capstream/internal/stream"
)

func TestChunkLogRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.chunks")
	log, err := NewChunkLog(path)
	require.NoError(t, err)

	require.NoError(t, stream.Send(log, []byte("first"), 100))
	require.NoError(t, stream.Send(log, []byte("second"), 200))
	// Sub-range send records only the window.
	require.NoError(t, log.SendChunk([]byte("xxthirdxx"), 2, 5, 300))
	require.NoError(t, log.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := ReadChunkRecords(file)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []byte("first"), records[0].Payload)
	assert.Equal(t, uint64(100), records[0].PTS)
	assert.Equal(t, []byte("second"), records[1].Payload)
	assert.Equal(t, []byte("third"), records[2].Payload)
	assert.Equal(t, uint64(300), records[2].PTS)

	// Elapsed stamps are monotonic from the log's start.
	assert.GreaterOrEqual(t, records[1].ElapsedMillis, records[0].ElapsedMillis)
	assert.GreaterOrEqual(t, records[2].ElapsedMillis, records[1].ElapsedMillis)
}

func TestChunkLogCloseIsIdempotent(t *testing.T) {
	log, err := NewChunkLog(filepath.Join(t.TempDir(), "audio.chunks"))
	require.NoError(t, err)

	require.NoError(t, stream.Send(log, []byte{1, 2, 3}, 1))
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	err = stream.Send(log, []byte{4}, 2)
	require.Error(t, err)
}

func TestChunkLogFlushOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush.chunks")
	log, err := NewChunkLog(path)
	require.NoError(t, err)

	payload := []byte{0xde, 0xad}
	require.NoError(t, stream.Send(log, payload, 7))

	// Buffered: nothing guaranteed on disk until Close.
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, raw, chunkLogHeaderSize+len(payload))
}

func TestCombine(t *testing.T) {
	assert.Nil(t, Combine())

	a := &countingSink{}
	assert.Same(t, stream.Sink(a), Combine(a))

	b := &countingSink{}
	tee := Combine(a, b)
	require.NoError(t, stream.Send(tee, []byte("x"), 5))
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestTeeAttemptsEverySinkOnError(t *testing.T) {
	failing := &countingSink{err: assert.AnError}
	healthy := &countingSink{}

	tee := Combine(failing, healthy)
	err := stream.Send(tee, []byte("x"), 0)
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, healthy.calls, "later sinks must still receive the chunk")
}

type countingSink struct {
	calls int
	err   error
}

func (s *countingSink) SendChunk(p []byte, off, n int, pts uint64) error {
	s.calls++
	return s.err
}
