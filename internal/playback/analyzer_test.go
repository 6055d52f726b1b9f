package playback

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform/platformtest"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testAnalyser(t *testing.T) *platformtest.FakeAnalyser {
	t.Helper()
	fake := platformtest.New()
	audioCtx, err := fake.CreateAudioContext()
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	analyser, err := audioCtx.CreateAnalyser(DefaultFFTSize, DefaultSmoothing)
	if err != nil {
		t.Fatalf("create analyser: %v", err)
	}
	return analyser.(*platformtest.FakeAnalyser)
}

func TestBassIntensityFormula(t *testing.T) {
	tests := []struct {
		name string
		bins []byte
		want float64
	}{
		{"silence", make([]byte, 128), 0},
		{"full scale", func() []byte {
			b := make([]byte, 128)
			for i := range b {
				b[i] = 255
			}
			return b
		}(), 0.8},
		{"single hot bin", func() []byte {
			b := make([]byte, 128)
			b[0] = 255
			return b
		}(), math.Pow(0.7/8+0.3, 0.8) * 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bassIntensity(tt.bins)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("bassIntensity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBassIntensityIgnoresHighBins(t *testing.T) {
	bins := make([]byte, 128)
	for i := BassWindowBins; i < len(bins); i++ {
		bins[i] = 255
	}
	if got := bassIntensity(bins); got != 0 {
		t.Fatalf("high-frequency energy leaked into bass window: %v", got)
	}
}

func TestBassIntensityBounded(t *testing.T) {
	bins := make([]byte, 128)
	for i := range bins {
		bins[i] = 255
	}
	if got := bassIntensity(bins); got > 0.8 {
		t.Fatalf("intensity %v exceeds 0.8 bound", got)
	}
}

func TestAnalyzerPublishesWhileRunning(t *testing.T) {
	analyser := testAnalyser(t)
	frame := make([]byte, 128)
	for i := 0; i < BassWindowBins; i++ {
		frame[i] = 200
	}
	analyser.SetFrame(frame)

	a := NewAnalyzer(time.Millisecond, zerolog.Nop())
	a.Start(analyser)
	defer a.Stop()

	waitFor(t, "published intensity", func() bool { return a.BassIntensity() > 0 })
}

func TestAnalyzerStopResetsValueAndHaltsPolling(t *testing.T) {
	analyser := testAnalyser(t)
	frame := make([]byte, 128)
	for i := 0; i < BassWindowBins; i++ {
		frame[i] = 255
	}
	analyser.SetFrame(frame)

	a := NewAnalyzer(time.Millisecond, zerolog.Nop())
	a.Start(analyser)
	waitFor(t, "published intensity", func() bool { return a.BassIntensity() > 0 })

	a.Stop()
	if a.BassIntensity() != 0 {
		t.Fatalf("expected zero after stop, got %v", a.BassIntensity())
	}
	if a.Running() {
		t.Fatal("expected loop to be cancelled")
	}

	// A stale tick must not resurrect the value.
	time.Sleep(10 * time.Millisecond)
	if a.BassIntensity() != 0 {
		t.Fatalf("stale loop published %v after stop", a.BassIntensity())
	}
}

func TestAnalyzerReadErrorResetsToZero(t *testing.T) {
	analyser := testAnalyser(t)
	frame := make([]byte, 128)
	for i := 0; i < BassWindowBins; i++ {
		frame[i] = 255
	}
	analyser.SetFrame(frame)

	a := NewAnalyzer(time.Millisecond, zerolog.Nop())
	a.Start(analyser)
	defer a.Stop()

	waitFor(t, "published intensity", func() bool { return a.BassIntensity() > 0 })

	analyser.SetFailReads(true)
	waitFor(t, "reset to zero on read error", func() bool { return a.BassIntensity() == 0 })

	// The loop survives the error and recovers when reads come back.
	analyser.SetFailReads(false)
	waitFor(t, "recovery after read error", func() bool { return a.BassIntensity() > 0 })
}

func TestAnalyzerStartIsExclusive(t *testing.T) {
	analyser := testAnalyser(t)
	a := NewAnalyzer(time.Millisecond, zerolog.Nop())
	a.Start(analyser)
	a.Start(analyser) // restart replaces the loop rather than stacking one
	defer a.Stop()

	if !a.Running() {
		t.Fatal("expected running analyzer")
	}
}
