package energy

import (
	"math"
	"testing"

	"github.com/mynah-ai/mynah/pkg/provider/vad"
)

func validConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	}
}

// sineFrame generates one 16-bit mono PCM frame of the given amplitude.
func sineFrame(t *testing.T, cfg vad.Config, amplitude float64) []byte {
	t.Helper()
	samples := cfg.SampleRate * cfg.FrameSizeMs / 1000
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(cfg.SampleRate)))
		frame[i*2] = byte(v)
		frame[i*2+1] = byte(v >> 8)
	}
	return frame
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"zero sample rate", func(c *vad.Config) { c.SampleRate = 0 }},
		{"zero frame size", func(c *vad.Config) { c.FrameSizeMs = 0 }},
		{"speech threshold above one", func(c *vad.Config) { c.SpeechThreshold = 1.5 }},
		{"silence above speech", func(c *vad.Config) { c.SilenceThreshold = 0.9 }},
		{"negative silence threshold", func(c *vad.Config) { c.SilenceThreshold = -0.1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			if _, err := New().NewSession(cfg); err == nil {
				t.Fatalf("NewSession(%+v) succeeded, want error", cfg)
			}
		})
	}
}

func TestProcessFrameWrongSize(t *testing.T) {
	t.Parallel()
	sess, err := New().NewSession(validConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Fatal("ProcessFrame with wrong frame size succeeded, want error")
	}
}

func TestSpeechDetection(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	sess, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	quiet := sineFrame(t, cfg, 50)
	loud := sineFrame(t, cfg, 20000)

	// Settle the noise floor on quiet frames.
	var last vad.Event
	for i := 0; i < 10; i++ {
		last, err = sess.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame quiet: %v", err)
		}
	}
	if last.Type != vad.EventSilence {
		t.Fatalf("quiet frame classified %q, want %q", last.Type, vad.EventSilence)
	}
	if last.Probability >= cfg.SilenceThreshold {
		t.Fatalf("quiet probability = %v, want < %v", last.Probability, cfg.SilenceThreshold)
	}

	ev, err := sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame loud: %v", err)
	}
	if ev.Type != vad.EventSpeechStart {
		t.Fatalf("first loud frame classified %q, want %q", ev.Type, vad.EventSpeechStart)
	}

	ev, err = sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame loud: %v", err)
	}
	if ev.Type != vad.EventSpeech {
		t.Fatalf("second loud frame classified %q, want %q", ev.Type, vad.EventSpeech)
	}

	ev, err = sess.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("ProcessFrame quiet after speech: %v", err)
	}
	if ev.Type != vad.EventSpeechEnd {
		t.Fatalf("quiet frame after speech classified %q, want %q", ev.Type, vad.EventSpeechEnd)
	}
}

func TestResetClearsSegment(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	sess, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	loud := sineFrame(t, cfg, 20000)
	if _, err := sess.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}

	sess.Reset()

	// After Reset the next loud frame starts a new segment.
	ev, err := sess.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame after reset: %v", err)
	}
	if ev.Type != vad.EventSpeechStart {
		t.Fatalf("frame after reset classified %q, want %q", ev.Type, vad.EventSpeechStart)
	}
}

func TestCloseRejectsFrames(t *testing.T) {
	t.Parallel()
	sess, err := New().NewSession(validConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(sineFrame(t, validConfig(), 100)); err == nil {
		t.Fatal("ProcessFrame after Close succeeded, want error")
	}
}
