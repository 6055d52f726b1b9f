package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
	"github.com/wrenlabs/bassline/internal/platform/platformtest"
)

func newGraphFixture(t *testing.T) (*platformtest.Fake, *GraphManager, platform.MediaHandle) {
	t.Helper()
	fake := platformtest.New()
	handle, err := fake.CreateMediaHandle()
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	return fake, NewGraphManager(fake, zerolog.Nop()), handle
}

func TestCreateGraphBuildsReadyGraph(t *testing.T) {
	fake, gm, handle := newGraphFixture(t)

	analyser, err := gm.CreateGraph(context.Background(), handle)
	if err != nil {
		t.Fatalf("create graph: %v", err)
	}
	if analyser == nil {
		t.Fatal("expected analyser")
	}
	if gm.State() != GraphReady {
		t.Fatalf("expected ready state, got %s", gm.State())
	}
	if analyser.BinCount() != DefaultFFTSize/2 {
		t.Fatalf("expected %d bins, got %d", DefaultFFTSize/2, analyser.BinCount())
	}
	if fake.LiveContexts() != 1 {
		t.Fatalf("expected exactly one live context, got %d", fake.LiveContexts())
	}
}

func TestCreateGraphTwiceRecoversWrapConflict(t *testing.T) {
	fake, gm, handle := newGraphFixture(t)

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Second create on the never-reset handle hits the wrap conflict. The
	// manager must close the first context, retry once, and succeed.
	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("second create: %v", err)
	}

	if gm.State() != GraphReady {
		t.Fatalf("expected ready state, got %s", gm.State())
	}
	if gm.WrapRetries() != 1 {
		t.Fatalf("expected exactly one wrap retry, got %d", gm.WrapRetries())
	}
	if fake.LiveContexts() != 1 {
		t.Fatalf("expected exactly one live context after recovery, got %d", fake.LiveContexts())
	}
}

func TestCreateGraphFailsWhenRetryAlsoFails(t *testing.T) {
	fake, _, _ := newGraphFixture(t)
	fake.FailWrapAll = true

	handle, _ := fake.CreateMediaHandle()
	gm := NewGraphManager(fake, zerolog.Nop())

	if _, err := gm.CreateGraph(context.Background(), handle); err == nil {
		t.Fatal("expected create to fail after exhausted retry")
	}
	if gm.State() != GraphFailed {
		t.Fatalf("expected failed state, got %s", gm.State())
	}
	if gm.LastError() == nil {
		t.Fatal("expected recorded error")
	}
	// The partially built context must not leak.
	if fake.LiveContexts() != 0 {
		t.Fatalf("expected no live contexts after failure, got %d", fake.LiveContexts())
	}
}

func TestSafeResetGraphIsIdempotent(t *testing.T) {
	fake, gm, handle := newGraphFixture(t)

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := gm.SafeResetGraph(context.Background()); err != nil {
		t.Fatalf("first reset: %v", err)
	}
	if gm.State() != GraphUninitialized {
		t.Fatalf("expected uninitialized after reset, got %s", gm.State())
	}

	// A second reset without an intervening create is a no-op.
	if err := gm.SafeResetGraph(context.Background()); err != nil {
		t.Fatalf("second reset: %v", err)
	}

	ctxs := fake.Contexts()
	if len(ctxs) != 1 {
		t.Fatalf("expected one context, got %d", len(ctxs))
	}
	if ctxs[0].CloseCalls != 1 {
		t.Fatalf("expected exactly one close call, got %d", ctxs[0].CloseCalls)
	}
}

func TestSafeResetGraphFromUninitializedIsNoop(t *testing.T) {
	_, gm, _ := newGraphFixture(t)
	if err := gm.SafeResetGraph(context.Background()); err != nil {
		t.Fatalf("reset on fresh manager: %v", err)
	}
	if gm.State() != GraphUninitialized {
		t.Fatalf("unexpected state %s", gm.State())
	}
}

func TestResetGraphBestEffortReleasesContext(t *testing.T) {
	fake, gm, handle := newGraphFixture(t)
	fake.CloseDelay = 10 * time.Millisecond

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("create: %v", err)
	}

	gm.ResetGraph()
	if gm.State() != GraphUninitialized {
		t.Fatalf("expected uninitialized, got %s", gm.State())
	}

	// The close completes in the background.
	deadline := time.Now().Add(time.Second)
	for fake.LiveContexts() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("context never closed, %d live", fake.LiveContexts())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAtMostOneLiveContextAcrossSequences(t *testing.T) {
	fake, gm, handle := newGraphFixture(t)

	for i := 0; i < 5; i++ {
		if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if live := fake.LiveContexts(); live != 1 {
			t.Fatalf("iteration %d: expected one live context, got %d", i, live)
		}
		if err := gm.SafeResetGraph(context.Background()); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
		if live := fake.LiveContexts(); live != 0 {
			t.Fatalf("iteration %d: expected zero live contexts after reset, got %d", i, live)
		}
	}
}

// analyserFailPlatform fails CreateAnalyser on exactly one context, by
// creation ordinal, simulating a transient platform fault mid-rebuild.
type analyserFailPlatform struct {
	*platformtest.Fake
	failOrdinal int
	created     int
}

func (p *analyserFailPlatform) CreateAudioContext() (platform.AudioContext, error) {
	audioCtx, err := p.Fake.CreateAudioContext()
	if err != nil {
		return nil, err
	}
	p.created++
	if p.created == p.failOrdinal {
		return &analyserFailContext{AudioContext: audioCtx}, nil
	}
	return audioCtx, nil
}

type analyserFailContext struct {
	platform.AudioContext
}

func (c *analyserFailContext) CreateAnalyser(fftSize int, smoothing float64) (platform.Analyser, error) {
	return nil, errors.New("analyser unavailable")
}

func TestFailedRebuildClosesPreviousContextAndRecovers(t *testing.T) {
	fake := platformtest.New()
	handle, err := fake.CreateMediaHandle()
	if err != nil {
		t.Fatalf("create handle: %v", err)
	}
	pf := &analyserFailPlatform{Fake: fake, failOrdinal: 2}
	gm := NewGraphManager(pf, zerolog.Nop())

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// The rebuild fails before the wrap is even attempted. The new context is
	// discarded, and the previous live context must be closed with it so the
	// handle's wrap claim lapses.
	if _, err := gm.CreateGraph(context.Background(), handle); err == nil {
		t.Fatal("expected rebuild to fail on analyser creation")
	}
	if gm.State() != GraphFailed {
		t.Fatalf("expected failed state, got %s", gm.State())
	}
	if live := fake.LiveContexts(); live != 0 {
		t.Fatalf("expected no live contexts after failed rebuild, got %d", live)
	}

	// A later build starts clean: no wrap conflict against an orphaned
	// context, no stuck failed state.
	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("rebuild after transient failure: %v", err)
	}
	if gm.State() != GraphReady {
		t.Fatalf("expected ready state after recovery, got %s", gm.State())
	}
	if gm.WrapRetries() != 0 {
		t.Fatalf("recovery should not need a wrap retry, got %d", gm.WrapRetries())
	}
	if fake.LiveContexts() != 1 {
		t.Fatalf("expected one live context after recovery, got %d", fake.LiveContexts())
	}
}

func TestSuspendedContextIsResumed(t *testing.T) {
	fake, _, _ := newGraphFixture(t)
	fake.StartSuspended = true

	handle, _ := fake.CreateMediaHandle()
	gm := NewGraphManager(fake, zerolog.Nop())

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctxs := fake.Contexts()
	last := ctxs[len(ctxs)-1]
	if last.State() != platform.ContextRunning {
		t.Fatalf("expected running context, got %s", last.State())
	}
	if last.ResumeCalls != 1 {
		t.Fatalf("expected one resume call, got %d", last.ResumeCalls)
	}
}

func TestResumeFailureKeepsGraphReady(t *testing.T) {
	fake, _, _ := newGraphFixture(t)
	fake.StartSuspended = true
	fake.FailResumeAll = true

	handle, _ := fake.CreateMediaHandle()
	gm := NewGraphManager(fake, zerolog.Nop())

	if _, err := gm.CreateGraph(context.Background(), handle); err != nil {
		t.Fatalf("create should tolerate resume failure: %v", err)
	}
	if gm.State() != GraphReady {
		t.Fatalf("expected ready despite resume failure, got %s", gm.State())
	}
}
