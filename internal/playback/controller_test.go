package playback

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
	"github.com/wrenlabs/bassline/internal/platform/platformtest"
)

func newControllerFixture(t *testing.T) (*platformtest.Fake, *platformtest.FakeHandle, *Controller) {
	t.Helper()
	fake := platformtest.New()
	handle, err := fake.CreateMediaHandle()
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	fh := handle.(*platformtest.FakeHandle)
	return fake, fh, NewController(handle, zerolog.Nop())
}

func TestControllerLoadReportsLoaded(t *testing.T) {
	_, fh, c := newControllerFixture(t)

	var gotDuration float64
	c.OnLoaded(func(d float64) { gotDuration = d })

	c.Load("http://localhost/stream/a")
	if c.State() != StateLoading {
		t.Fatalf("expected loading, got %s", c.State())
	}

	fh.EmitLoaded(118)
	if gotDuration != 118 {
		t.Fatalf("expected loaded callback with 118, got %v", gotDuration)
	}
	if c.Duration() != 118 {
		t.Fatalf("expected duration 118, got %v", c.Duration())
	}
	if c.State() != StatePaused {
		t.Fatalf("expected paused after load, got %s", c.State())
	}
}

func TestControllerLoadReplacesSource(t *testing.T) {
	_, fh, c := newControllerFixture(t)

	c.Load("http://localhost/stream/a")
	c.Load("http://localhost/stream/b")
	if fh.Source() != "http://localhost/stream/b" {
		t.Fatalf("unexpected source %q", fh.Source())
	}
}

func TestControllerPlayReportsBlockedAsRetryable(t *testing.T) {
	_, fh, c := newControllerFixture(t)
	c.Load("http://localhost/stream/a")
	fh.BlockPlays = 1

	started, err := c.Play(context.Background())
	if started {
		t.Fatal("expected blocked play to report not started")
	}
	if !errors.Is(err, platform.ErrAutoplayBlocked) {
		t.Fatalf("expected ErrAutoplayBlocked, got %v", err)
	}
	// Blocked is not an error state.
	if c.State() == StateErrored {
		t.Fatal("blocked play must not error the controller")
	}

	started, err = c.Play(context.Background())
	if !started || err != nil {
		t.Fatalf("expected second play to start, got started=%v err=%v", started, err)
	}
	if c.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", c.State())
	}
}

func TestControllerSeekClampsAndIgnoresUnknownDuration(t *testing.T) {
	_, fh, c := newControllerFixture(t)
	c.Load("http://localhost/stream/a")

	// Duration unknown: seek is ignored.
	c.Seek(30)
	if fh.Position() != 0 {
		t.Fatalf("seek before metadata should be ignored, position %v", fh.Position())
	}

	fh.EmitLoaded(100)
	c.Seek(150)
	if fh.Position() != 100 {
		t.Fatalf("expected clamp to duration, got %v", fh.Position())
	}
	c.Seek(-5)
	if fh.Position() != 0 {
		t.Fatalf("expected clamp to zero, got %v", fh.Position())
	}
}

func TestControllerVolumeClamped(t *testing.T) {
	_, fh, c := newControllerFixture(t)
	c.SetVolume(1.7)
	if fh.Volume() != 1 {
		t.Fatalf("expected clamp to 1, got %v", fh.Volume())
	}
	c.SetVolume(-0.2)
	if fh.Volume() != 0 {
		t.Fatalf("expected clamp to 0, got %v", fh.Volume())
	}
}

func TestControllerDecodeFailureLandsInErrored(t *testing.T) {
	_, fh, c := newControllerFixture(t)

	var gotErr error
	c.OnError(func(err error) { gotErr = err })

	fh.FailLoad = true
	c.Load("http://localhost/stream/broken")

	if c.State() != StateErrored {
		t.Fatalf("expected errored, got %s", c.State())
	}
	if gotErr == nil || c.LastError() == nil {
		t.Fatal("expected error to be reported")
	}
}

func TestControllerEndedEvent(t *testing.T) {
	_, fh, c := newControllerFixture(t)
	c.Load("http://localhost/stream/a")
	fh.EmitLoaded(60)
	if _, err := c.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}

	ended := false
	c.OnEnded(func() { ended = true })
	fh.EmitEnded()

	if !ended {
		t.Fatal("expected ended callback")
	}
	if c.State() != StateEnded {
		t.Fatalf("expected ended state, got %s", c.State())
	}
}

func TestControllerDetachClearsSource(t *testing.T) {
	_, fh, c := newControllerFixture(t)
	c.Load("http://localhost/stream/a")
	c.Detach()
	if fh.Source() != "" {
		t.Fatalf("expected cleared source, got %q", fh.Source())
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
}
