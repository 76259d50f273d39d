package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

// pcm16 encodes samples as little-endian 16-bit PCM.
func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func TestFrame_SamplesAndDuration(t *testing.T) {
	t.Parallel()
	frame := Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	if frame.Samples() != 320 {
		t.Errorf("Samples() = %d, want 320", frame.Samples())
	}
	if frame.Duration() != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", frame.Duration())
	}

	stereo := Frame{Data: make([]byte, 640), SampleRate: 16000, Channels: 2}
	if stereo.Samples() != 160 {
		t.Errorf("stereo Samples() = %d, want 160", stereo.Samples())
	}

	var zero Frame
	if zero.Samples() != 0 || zero.Duration() != 0 {
		t.Errorf("zero frame: samples %d duration %v", zero.Samples(), zero.Duration())
	}
}

func TestFrameBytes(t *testing.T) {
	t.Parallel()
	if got := FrameBytes(16000, 20*time.Millisecond); got != 640 {
		t.Errorf("FrameBytes(16000, 20ms) = %d, want 640", got)
	}
	if got := FrameBytes(48000, 10*time.Millisecond); got != 960 {
		t.Errorf("FrameBytes(48000, 10ms) = %d, want 960", got)
	}
}

func TestDownmixStereo16(t *testing.T) {
	t.Parallel()
	// Pairs: (100, 200) -> 150, (-100, 100) -> 0, (32767, 32767) -> 32767.
	in := pcm16(100, 200, -100, 100, 32767, 32767)
	got := samples16(DownmixStereo16(in))
	want := []int16{150, 0, 32767}
	if len(got) != len(want) {
		t.Fatalf("downmix produced %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	// Halving the rate keeps every other sample (ratio 2, no interpolation
	// at integer positions).
	in := pcm16(0, 1000, 2000, 3000)
	got := samples16(ResampleMono16(in, 32000, 16000))
	if len(got) != 2 || got[0] != 0 || got[1] != 2000 {
		t.Errorf("downsample = %v", got)
	}

	// Doubling the rate interpolates midpoints.
	up := samples16(ResampleMono16(pcm16(0, 1000), 16000, 32000))
	if len(up) != 4 {
		t.Fatalf("upsample produced %d samples, want 4", len(up))
	}
	if up[0] != 0 || up[1] != 500 {
		t.Errorf("upsample = %v, want interpolated midpoint 500", up)
	}

	// Same rate and degenerate inputs pass through.
	if out := ResampleMono16(in, 16000, 16000); !bytes.Equal(out, in) {
		t.Error("same-rate resample modified the input")
	}
	if out := ResampleMono16(nil, 16000, 48000); out != nil {
		t.Errorf("nil input = %v", out)
	}
}

func TestNormalizer(t *testing.T) {
	t.Parallel()
	n := &Normalizer{Target: Format{SampleRate: 16000, Channels: 1}}

	// Already in target format: returned unchanged.
	in := Frame{Data: pcm16(1, 2, 3), SampleRate: 16000, Channels: 1}
	if got := n.Normalize(in); !bytes.Equal(got.Data, in.Data) {
		t.Errorf("target-format frame was modified: %v", got.Data)
	}

	// 48 kHz stereo is downmixed then resampled to 16 kHz mono.
	stereo := Frame{Data: make([]byte, 4*48*4), SampleRate: 48000, Channels: 2}
	got := n.Normalize(stereo)
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("normalized format = %d Hz %d ch", got.SampleRate, got.Channels)
	}
	if got.Samples() != stereo.Samples()/3 {
		t.Errorf("normalized samples = %d, want %d", got.Samples(), stereo.Samples()/3)
	}

	// Odd byte counts are dropped, not passed through.
	odd := n.Normalize(Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(odd.Data) != 0 {
		t.Errorf("odd-length frame survived: %v", odd.Data)
	}
}

func TestChunker(t *testing.T) {
	t.Parallel()
	c := NewChunker(4)

	if frames := c.Push([]byte{1, 2}); frames != nil {
		t.Errorf("partial push emitted %v", frames)
	}
	if c.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", c.Pending())
	}

	frames := c.Push([]byte{3, 4, 5, 6, 7})
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Fatalf("frames = %v", frames)
	}
	if c.Pending() != 3 {
		t.Errorf("Pending = %d, want 3", c.Pending())
	}

	frames = c.Push([]byte{8, 9, 10, 11, 12})
	if len(frames) != 2 {
		t.Fatalf("frames = %v, want 2 full frames", frames)
	}
	if !bytes.Equal(frames[0], []byte{5, 6, 7, 8}) || !bytes.Equal(frames[1], []byte{9, 10, 11, 12}) {
		t.Errorf("frames = %v", frames)
	}

	// Returned frames are copies, not views into the buffer.
	frames[0][0] = 99
	if more := c.Push([]byte{13, 14, 15, 16}); !bytes.Equal(more[0], []byte{13, 14, 15, 16}) {
		t.Errorf("buffer was aliased by a returned frame: %v", more)
	}

	c.Reset()
	if c.Pending() != 0 {
		t.Errorf("Pending after Reset = %d", c.Pending())
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	ch := make(chan []byte, 4)
	for range 4 {
		ch <- make([]byte, 10)
	}
	close(ch)
	Drain(ch) // returns once the channel is empty and closed
}
