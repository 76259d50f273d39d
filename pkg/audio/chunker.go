package audio

// Chunker re-frames an arbitrary-sized PCM byte stream into fixed-size
// frames. VAD engines operate on exact frame sizes (10/20/30 ms), while
// transports deliver whatever chunk size their clients happen to send; the
// chunker sits between the two.
//
// Not safe for concurrent use; the ingress loop is its only caller.
type Chunker struct {
	frameBytes int
	buf        []byte
}

// NewChunker returns a Chunker emitting frames of exactly frameBytes bytes.
func NewChunker(frameBytes int) *Chunker {
	return &Chunker{frameBytes: frameBytes}
}

// Push appends pcm to the internal buffer and returns all complete frames now
// available, in order. Returned slices are freshly allocated and safe to
// retain. Leftover bytes stay buffered for the next call.
func (c *Chunker) Push(pcm []byte) [][]byte {
	if c.frameBytes <= 0 {
		return nil
	}
	c.buf = append(c.buf, pcm...)

	n := len(c.buf) / c.frameBytes
	if n == 0 {
		return nil
	}

	frames := make([][]byte, 0, n)
	for i := range n {
		frame := make([]byte, c.frameBytes)
		copy(frame, c.buf[i*c.frameBytes:(i+1)*c.frameBytes])
		frames = append(frames, frame)
	}

	rest := len(c.buf) - n*c.frameBytes
	copy(c.buf, c.buf[n*c.frameBytes:])
	c.buf = c.buf[:rest]
	return frames
}

// Pending returns the number of buffered bytes not yet emitted.
func (c *Chunker) Pending() int {
	return len(c.buf)
}

// Reset discards any buffered bytes.
func (c *Chunker) Reset() {
	c.buf = c.buf[:0]
}
