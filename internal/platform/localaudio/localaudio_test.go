package localaudio

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	p := New(nil, zerolog.Nop())
	ctx, err := p.CreateAudioContext()
	if err != nil {
		t.Fatalf("create context: %v", err)
	}
	return ctx.(*Context)
}

func TestWrapOnceEnforced(t *testing.T) {
	p := New(nil, zerolog.Nop())
	handle, err := p.CreateMediaHandle()
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}

	c1 := newTestContext(t)
	if _, err := c1.CreateMediaSource(handle); err != nil {
		t.Fatalf("first wrap: %v", err)
	}

	c2 := newTestContext(t)
	if _, err := c2.CreateMediaSource(handle); err != platform.ErrAlreadyWrapped {
		t.Fatalf("expected ErrAlreadyWrapped, got %v", err)
	}

	// Closing the owning context releases the claim.
	if err := c1.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c2.CreateMediaSource(handle); err != nil {
		t.Fatalf("wrap after owner closed: %v", err)
	}
}

func TestClosedContextRejectsOperations(t *testing.T) {
	c := newTestContext(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := c.Close(context.Background()); err != platform.ErrContextClosed {
		t.Fatalf("double close: %v", err)
	}
	if _, err := c.CreateAnalyser(256, 0.7); err != platform.ErrContextClosed {
		t.Fatalf("analyser on closed: %v", err)
	}
	if err := c.Resume(context.Background()); err != platform.ErrContextClosed {
		t.Fatalf("resume on closed: %v", err)
	}

	p := New(nil, zerolog.Nop())
	handle, _ := p.CreateMediaHandle()
	if _, err := c.CreateMediaSource(handle); err != platform.ErrContextClosed {
		t.Fatalf("wrap on closed: %v", err)
	}
}

func TestAnalyserOnUnboundContextReturnsSilence(t *testing.T) {
	c := newTestContext(t)
	an, err := c.CreateAnalyser(256, 0.7)
	if err != nil {
		t.Fatalf("create analyser: %v", err)
	}
	if an.BinCount() != 128 {
		t.Fatalf("bin count %d", an.BinCount())
	}

	dst := make([]byte, an.BinCount())
	dst[0] = 99
	if err := an.FrequencyData(dst); err != nil {
		t.Fatalf("frequency data: %v", err)
	}
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("bin %d = %d, want 0", i, v)
		}
	}
}

func TestAnalyserFailsAfterContextClose(t *testing.T) {
	c := newTestContext(t)
	an, err := c.CreateAnalyser(256, 0.7)
	if err != nil {
		t.Fatalf("create analyser: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := an.FrequencyData(make([]byte, an.BinCount())); err != platform.ErrContextClosed {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
}

func TestHandleSetSourceMissingFile(t *testing.T) {
	p := New(nil, zerolog.Nop())
	handle, _ := p.CreateMediaHandle()

	var got platform.MediaEvent
	handle.Subscribe(func(ev platform.MediaEvent) { got = ev })
	handle.SetSource("/does/not/exist.mp3")

	if got.Kind != platform.MediaError {
		t.Fatalf("expected error event, got %+v", got)
	}
	if handle.Duration() != 0 {
		t.Fatalf("duration %v", handle.Duration())
	}
}

func TestHandlePlayWithoutSource(t *testing.T) {
	p := New(nil, zerolog.Nop())
	handle, _ := p.CreateMediaHandle()
	if err := handle.Play(context.Background()); err != platform.ErrNoSource {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestPCMTapSnapshotOrder(t *testing.T) {
	tap := newPCMTap(4)
	tap.inner = &staticStreamer{samples: [][2]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}, {6, 6}}}

	buf := make([][2]float64, 6)
	tap.Stream(buf)

	dst := make([]float64, 4)
	tap.snapshot(dst)
	want := []float64{3, 4, 5, 6}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("snapshot[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestMagnitudeToByte(t *testing.T) {
	if got := magnitudeToByte(0); got != 0 {
		t.Fatalf("silence: %d", got)
	}
	if got := magnitudeToByte(1); got != 255 {
		t.Fatalf("full scale: %d", got)
	}
	// -65 dB sits halfway through the -100..-30 range.
	mid := magnitudeToByte(5.6234e-4)
	if mid < 120 || mid > 135 {
		t.Fatalf("midpoint: %d", mid)
	}
}

// staticStreamer feeds fixed samples once.
type staticStreamer struct {
	samples [][2]float64
	pos     int
}

func (s *staticStreamer) Stream(samples [][2]float64) (int, bool) {
	n := copy(samples, s.samples[s.pos:])
	s.pos += n
	return n, n > 0
}

func (s *staticStreamer) Err() error { return nil }
