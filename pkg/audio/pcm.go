package audio

import (
	"log/slog"
	"sync"
)

// Normalizer converts incoming frames to a fixed target format. The engine
// runs VAD and STT at one format (16 kHz mono by default) while transports may
// deliver whatever their clients capture; the normalizer sits at ingress and
// absorbs the difference.
//
// It logs once on the first format mismatch and once on the first corrupt
// frame. Create one per stream; it is not safe for shared use.
type Normalizer struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Normalize converts frame to the target format. A frame already in the
// target format is returned unchanged with zero allocation. Frames with an
// odd byte count are dropped (empty Data returned).
func (n *Normalizer) Normalize(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		n.warnedCorrupt.Do(func() {
			slog.Warn("audio: odd byte count in PCM frame, dropping",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: n.Target.SampleRate, Channels: n.Target.Channels}
	}

	if frame.SampleRate == n.Target.SampleRate && frame.Channels == n.Target.Channels {
		return frame
	}

	n.warnedMismatch.Do(func() {
		slog.Warn("audio: format mismatch at ingress, converting",
			"from_rate", frame.SampleRate, "from_channels", frame.Channels,
			"to_rate", n.Target.SampleRate, "to_channels", n.Target.Channels,
		)
	})

	pcm := frame.Data
	rate := frame.SampleRate
	channels := frame.Channels

	// Downmix before resampling so the resampler only ever sees mono when the
	// target is mono.
	if channels == 2 && n.Target.Channels == 1 {
		pcm = DownmixStereo16(pcm)
		channels = 1
	}
	if rate != n.Target.SampleRate && channels == 1 {
		pcm = ResampleMono16(pcm, rate, n.Target.SampleRate)
		rate = n.Target.SampleRate
	}

	return Frame{Data: pcm, SampleRate: rate, Channels: channels}
}

// DownmixStereo16 averages each interleaved L+R pair of 16-bit samples into a
// mono sample. Uses int32 arithmetic to avoid overflow and clamps to the
// int16 range.
func DownmixStereo16(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Returns the input unchanged when the rates already
// match or the input is too short to resample.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		s1 := s0
		if idx+1 < srcSamples {
			s1 = int16(pcm[(idx+1)*2]) | int16(pcm[(idx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
