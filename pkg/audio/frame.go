// Package audio provides the PCM frame type and the small set of sample-level
// helpers the voice pipeline needs: format normalization (resample, downmix)
// and fixed-size frame chunking for VAD input.
//
// Everything here operates on signed 16-bit little-endian PCM. Codec work
// (Opus, Ogg, µ-law) is deliberately out of scope; transports hand the engine
// raw PCM and receive raw PCM back.
package audio

import "time"

// Frame is a single chunk of raw PCM audio flowing through the pipeline.
// Frames carry no timestamp; ordering is positional.
type Frame struct {
	// Data is signed 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for VAD/STT ingress).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Samples returns the number of per-channel sample positions in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes returns the byte length of a mono 16-bit frame of the given
// duration at the given rate.
func FrameBytes(sampleRate int, frameDur time.Duration) int {
	samples := int(int64(sampleRate) * int64(frameDur) / int64(time.Second))
	return samples * 2
}
