// Package playback implements the FIFO queue that plays the agent's
// synthesized speech and supports a hard, atomic cut on barge-in.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/rolecall/pkg/audio"
)

// DefaultTrackID labels every chunk of agent audio. It is also the track
// reported by [Queue.Interrupt] when nothing was mid-playback.
const DefaultTrackID = "bot-response"

// DefaultSliceSamples is how many samples are handed to the sink per write:
// 100ms at [audio.SampleRate]. Interrupt latency is bounded by one slice.
const DefaultSliceSamples = audio.SampleRate / 10

// Chunk is one decoded block of agent audio.
type Chunk struct {
	TrackID string
	Samples []int16
}

// Cut describes the playback position at the moment of an interrupt.
type Cut struct {
	// TrackID is the track that was cut.
	TrackID string

	// Offset is the number of samples of the cut chunk already handed to the
	// device.
	Offset int

	// CurrentTime is the queue's playback clock: total audio written since
	// the queue was created.
	CurrentTime time.Duration
}

// DefaultCut is returned by [Queue.Interrupt] when nothing was playing.
var DefaultCut = Cut{TrackID: DefaultTrackID}

// Option configures a [Queue] during construction.
type Option func(*Queue)

// WithSliceSamples sets the write granularity towards the sink.
func WithSliceSamples(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.slice = n
		}
	}
}

// playState tracks the chunk currently being written to the sink.
type playState struct {
	trackID string
	cancel  context.CancelFunc
	done    chan struct{} // closed when the dispatch goroutine let go of the chunk
}

// Queue plays [Chunk]s strictly in arrival order through an [audio.Sink].
// At most one chunk is in flight; the next starts when the previous one has
// been fully accepted by the sink.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	sink  audio.Sink
	slice int

	mu       sync.Mutex
	queue    []Chunk
	current  *playState
	offset   int   // samples of the current chunk written
	clock    int64 // samples written since New
	flushing bool
	closed   bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Queue writing to sink and starts its dispatch goroutine.
// The queue owns sink from now on; [Queue.Close] closes it.
func New(sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		sink:   sink,
		slice:  DefaultSliceSamples,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Enqueue appends chunk to the queue. Playback starts immediately if nothing
// else is playing. Empty chunks are ignored.
func (q *Queue) Enqueue(chunk Chunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	if chunk.TrackID == "" {
		chunk.TrackID = DefaultTrackID
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, chunk)
	q.mu.Unlock()
	q.wake()
}

// Interrupt clears the queue, hard-stops the chunk in flight and discards
// whatever the sink has buffered. When it returns, no audio enqueued before
// the call will be heard. It reports the cut point, or [DefaultCut] when
// nothing was mid-playback. Calling Interrupt repeatedly is safe.
func (q *Queue) Interrupt() Cut {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return DefaultCut
	}
	q.queue = nil
	cut := DefaultCut
	st := q.current
	if st != nil {
		cut = Cut{
			TrackID:     st.trackID,
			Offset:      q.offset,
			CurrentTime: audio.SamplesDuration(int(q.clock)),
		}
		st.cancel()
		q.current = nil
	}
	q.flushing = true
	q.mu.Unlock()

	if st != nil {
		<-st.done
	}
	q.sink.Flush()

	q.mu.Lock()
	q.flushing = false
	pending := len(q.queue) > 0
	q.mu.Unlock()
	if pending {
		q.wake()
	}
	return cut
}

// Pending returns the number of queued chunks, excluding the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Playing reports whether a chunk is currently being written.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Close stops playback, waits for the dispatch goroutine and closes the sink.
// Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.queue = nil
	if q.current != nil {
		q.current.cancel()
	}
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return q.sink.Close()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// dispatch pulls chunks off the queue and streams them to the sink until
// Close is called.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			chunk, ctx, st, ok := q.dequeue()
			if !ok {
				break
			}
			q.play(ctx, st, chunk)
			st.cancel()

			q.mu.Lock()
			if q.current == st {
				q.current = nil
			}
			q.mu.Unlock()
			close(st.done)
		}
	}
}

// dequeue pops the head of the queue and marks it as playing.
func (q *Queue) dequeue() (Chunk, context.Context, *playState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 || q.flushing || q.closed {
		return Chunk{}, nil, nil, false
	}
	chunk := q.queue[0]
	q.queue[0] = Chunk{}
	q.queue = q.queue[1:]

	ctx, cancel := context.WithCancel(context.Background())
	st := &playState{trackID: chunk.TrackID, cancel: cancel, done: make(chan struct{})}
	q.current = st
	q.offset = 0
	return chunk, ctx, st, true
}

// play writes chunk to the sink slice by slice until it is fully written or
// ctx is cancelled.
func (q *Queue) play(ctx context.Context, st *playState, chunk Chunk) {
	for off := 0; off < len(chunk.Samples); off += q.slice {
		end := min(off+q.slice, len(chunk.Samples))
		if err := q.sink.Write(ctx, chunk.Samples[off:end]); err != nil {
			return
		}
		q.mu.Lock()
		if q.current == st {
			q.offset += end - off
			q.clock += int64(end - off)
		}
		q.mu.Unlock()
	}
}
