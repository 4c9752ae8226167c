package speech

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSynth records spoken texts. An optional started channel signals the
// beginning of each utterance, and delay simulates playback time.
type fakeSynth struct {
	mu      sync.Mutex
	spoken  []string
	started chan string
	delay   time.Duration
	err     error
}

func (f *fakeSynth) Speak(ctx context.Context, text string) error {
	if f.started != nil {
		f.started <- text
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()
	return f.err
}

func (f *fakeSynth) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCue_SpeaksInQueueOrder(t *testing.T) {
	synth := &fakeSynth{}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	done := make(chan struct{})
	cue.Speak("first")
	cue.Speak("second")
	cue.SpeakFunc("third", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for utterances to play")
	}

	assert.Equal(t, []string{"first", "second", "third"}, synth.spokenTexts())
}

func TestCue_Speak_ReturnsDistinctIDsForSameText(t *testing.T) {
	synth := &fakeSynth{}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	id1 := cue.Speak("run")
	id2 := cue.Speak("run")
	assert.NotEqual(t, id1, id2)
}

func TestCue_Speak_DoesNotBlockCaller(t *testing.T) {
	synth := &fakeSynth{delay: 300 * time.Millisecond}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	start := time.Now()
	cue.Speak("a")
	cue.Speak("b")
	cue.Speak("c")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond, "Speak must enqueue without waiting for playback")
}

func TestCue_StopAll_CancelsInFlightAndDiscardsCallbacks(t *testing.T) {
	synth := &fakeSynth{delay: time.Second, started: make(chan string)}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	callbackRan := make(chan struct{}, 2)
	cue.SpeakFunc("playing", func() { callbackRan <- struct{}{} })
	cue.SpeakFunc("queued", func() { callbackRan <- struct{}{} })

	// Wait until the first utterance is actually in flight.
	select {
	case text := <-synth.started:
		require.Equal(t, "playing", text)
	case <-time.After(time.Second):
		t.Fatal("first utterance never started")
	}

	cue.StopAll()
	time.Sleep(50 * time.Millisecond)

	select {
	case <-callbackRan:
		t.Fatal("callback ran for a cancelled utterance")
	default:
	}
	assert.Empty(t, synth.spokenTexts(), "cancelled utterance must not count as spoken")
	assert.Equal(t, 0, cue.PendingCount())
}

func TestCue_ClearPending_LetsInFlightFinish(t *testing.T) {
	synth := &fakeSynth{delay: 100 * time.Millisecond, started: make(chan string)}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	finished := make(chan struct{})
	cue.SpeakFunc("playing", func() { close(finished) })
	cue.Speak("queued")

	select {
	case <-synth.started:
	case <-time.After(time.Second):
		t.Fatal("first utterance never started")
	}

	cue.ClearPending()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight utterance did not finish after ClearPending")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"playing"}, synth.spokenTexts())
}

func TestCue_SynthesizerError_UtteranceStillCompletes(t *testing.T) {
	synth := &fakeSynth{err: assert.AnError}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	done := make(chan struct{})
	cue.SpeakFunc("broken", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run after synthesizer error")
	}
}

func TestCue_SpeakCountdown_TextAndContinuation(t *testing.T) {
	synth := &fakeSynth{}
	cue := NewCue(synth, testLogger())
	defer cue.Shutdown()

	done := make(chan struct{})
	cue.SpeakCountdown(10, func() {
		cue.SpeakFunc("walk now", func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown continuation never played")
	}

	assert.Equal(t, []string{"10 seconds remaining", "walk now"}, synth.spokenTexts())
}

func TestCue_Shutdown_InterruptsPlayback(t *testing.T) {
	synth := &fakeSynth{delay: 5 * time.Second, started: make(chan string)}
	cue := NewCue(synth, testLogger())

	cue.Speak("endless")
	select {
	case <-synth.started:
	case <-time.After(time.Second):
		t.Fatal("utterance never started")
	}

	start := time.Now()
	cue.Shutdown()
	assert.Less(t, time.Since(start), time.Second, "Shutdown must cancel in-flight playback")

	// Second call is a no-op.
	cue.Shutdown()
}

func TestNewCue_NilArguments_Panic(t *testing.T) {
	assert.Panics(t, func() { NewCue(nil, testLogger()) })
	assert.Panics(t, func() { NewCue(&fakeSynth{}, nil) })
}
