package stream

// Chunk is a single timestamped media payload. PTS is in the device clock
// domain, not wall clock. The payload is only guaranteed valid for the
// duration of a send call; sinks that need to retain it must copy.
type Chunk struct {
	Data []byte
	PTS  uint64
}
