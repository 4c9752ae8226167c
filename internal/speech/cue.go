package speech

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/Speed7701/RFR/internal/async"
)

// utterance is one queued announcement. Utterances are tracked by id, not
// text, so two identical announcements never collide.
type utterance struct {
	id     uint64
	text   string
	onDone func()
}

// Cue is the voice announcement dispatcher. Utterances queue in FIFO
// order and play one at a time on a dedicated goroutine; enqueueing never
// blocks the caller. StopAll cancels whatever is playing and throws the
// queue away, completion callbacks included. ClearPending drops only the
// queue and lets the current utterance finish.
type Cue struct {
	logger *log.Logger
	synth  Synthesizer

	mu             sync.Mutex
	queue          []utterance
	nextID         uint64
	cancelInFlight context.CancelFunc

	wakeChan     chan struct{}
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewCue creates a Cue and starts its dispatch goroutine.
func NewCue(synth Synthesizer, logger *log.Logger) *Cue {
	if synth == nil {
		panic("Cue: synthesizer cannot be nil")
	}
	if logger == nil {
		panic("Cue: logger cannot be nil")
	}

	c := &Cue{
		logger:   logger,
		synth:    synth,
		wakeChan: make(chan struct{}, 1),
		doneChan: make(chan struct{}),
	}

	c.wg.Add(1)
	async.Go(logger, func() { c.dispatchLoop() })

	return c
}

// Speak queues text for announcement and returns its utterance id.
func (c *Cue) Speak(text string) uint64 {
	return c.SpeakFunc(text, nil)
}

// SpeakFunc queues text and invokes onDone after the utterance has played
// to completion. onDone runs on the dispatch goroutine and is discarded,
// not invoked, when the utterance is cancelled by StopAll.
func (c *Cue) SpeakFunc(text string, onDone func()) uint64 {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.queue = append(c.queue, utterance{id: id, text: text, onDone: onDone})
	c.mu.Unlock()

	select {
	case c.wakeChan <- struct{}{}:
	default:
	}
	return id
}

// SpeakCountdown queues a single "N seconds remaining" announcement with
// an optional continuation.
func (c *Cue) SpeakCountdown(seconds int, onDone func()) uint64 {
	return c.SpeakFunc(fmt.Sprintf("%d seconds remaining", seconds), onDone)
}

// StopAll cancels the in-flight utterance and discards everything queued.
// No completion callbacks run for the cancelled or discarded utterances.
func (c *Cue) StopAll() {
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = nil
	cancel := c.cancelInFlight
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dropped > 0 || cancel != nil {
		c.logger.Printf("SpeechCue: stopped speech, %d queued utterances dropped", dropped)
	}
}

// ClearPending discards queued utterances but lets the in-flight one
// finish and run its callback.
func (c *Cue) ClearPending() {
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = nil
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Printf("SpeechCue: cleared %d queued utterances", dropped)
	}
}

// PendingCount returns the number of queued (not yet started) utterances.
func (c *Cue) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Shutdown stops the dispatcher and waits for it to exit.
// Safe to call multiple times - only the first call has effect.
func (c *Cue) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Printf("SpeechCue: shutting down")
		c.StopAll()
		close(c.doneChan)
		c.wg.Wait()
		c.logger.Printf("SpeechCue: shutdown complete")
	})
}

// next pops the head of the queue and arms its cancellation in one
// critical section, so StopAll always sees the utterance either queued
// or cancellable.
func (c *Cue) next() (utterance, context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return utterance{}, nil, false
	}
	utt := c.queue[0]
	c.queue = c.queue[1:]

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelInFlight = cancel
	return utt, ctx, true
}

// dispatchLoop plays queued utterances until shutdown.
func (c *Cue) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.doneChan:
			return
		case <-c.wakeChan:
			c.drainQueue()
		}
	}
}

// drainQueue plays utterances until the queue is empty.
func (c *Cue) drainQueue() {
	for {
		utt, ctx, ok := c.next()
		if !ok {
			return
		}

		err := c.synth.Speak(ctx, utt.text)

		c.mu.Lock()
		cancel := c.cancelInFlight
		c.cancelInFlight = nil
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if ctx.Err() != nil {
			// Cancelled by StopAll; the callback is discarded.
			continue
		}
		if err != nil {
			// A broken synthesizer must not wedge the workout flow, so
			// the utterance counts as finished and the callback still runs.
			c.logger.Printf("SpeechCue: utterance %d failed: %v", utt.id, err)
		}
		if utt.onDone != nil {
			utt.onDone()
		}
	}
}
