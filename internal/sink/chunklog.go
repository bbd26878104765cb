package sink

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openconsole/capstream/internal/util"
)

// chunkLogHeaderSize is elapsedMillis(8) + pts(8) + size(4).
const chunkLogHeaderSize = 20

// ChunkLog is a debug sink that appends one raw record per send:
// {elapsedMillis:int64}{pts:uint64}{size:uint32}{payload}, big endian.
// Records are useful as reference fixtures; ReadChunkRecords reads them back.
// The writer is buffered, so the log is only complete after Close.
type ChunkLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	start  time.Time
	closed bool
}

// ChunkRecord is one decoded chunk-log record.
type ChunkRecord struct {
	ElapsedMillis int64
	PTS           uint64
	Payload       []byte
}

// NewChunkLog creates the log file, truncating any previous content.
func NewChunkLog(path string) (*ChunkLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create chunk log %s", path)
	}
	util.GetLogger().Info("Chunk log opened", "path", path)
	return &ChunkLog{
		file:   file,
		writer: bufio.NewWriter(file),
		start:  time.Now(),
	}, nil
}

// SendChunk implements stream.Sink.
func (l *ChunkLog) SendChunk(p []byte, off, n int, pts uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("chunk log is closed")
	}

	header := make([]byte, chunkLogHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], uint64(time.Since(l.start).Milliseconds()))
	binary.BigEndian.PutUint64(header[8:16], pts)
	binary.BigEndian.PutUint32(header[16:20], uint32(n))

	if _, err := l.writer.Write(header); err != nil {
		return errors.Wrap(err, "chunk log header write")
	}
	if _, err := l.writer.Write(p[off : off+n]); err != nil {
		return errors.Wrap(err, "chunk log payload write")
	}
	return nil
}

// Close flushes and closes the log. Flushing here is the contract; nothing
// is left to finalizers. Safe to call multiple times.
func (l *ChunkLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	flushErr := l.writer.Flush()
	closeErr := l.file.Close()
	if flushErr != nil {
		return errors.Wrap(flushErr, "chunk log flush")
	}
	return closeErr
}

// ReadChunkRecords decodes a chunk log back into records.
func ReadChunkRecords(r io.Reader) ([]ChunkRecord, error) {
	var records []ChunkRecord
	header := make([]byte, chunkLogHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return records, errors.Wrap(err, "chunk record header")
		}

		size := binary.BigEndian.Uint32(header[16:20])
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return records, errors.Wrap(err, "chunk record payload")
		}

		records = append(records, ChunkRecord{
			ElapsedMillis: int64(binary.BigEndian.Uint64(header[0:8])),
			PTS:           binary.BigEndian.Uint64(header[8:16]),
			Payload:       payload,
		})
	}
}
