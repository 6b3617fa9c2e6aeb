// Package eventbus routes fade lifecycle events to subscribers through a
// bounded worker pool. Publishing never blocks the tick driver: when the
// queue is full the event is dropped with a warning.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Type identifies a class of event.
type Type string

const (
	TypeFadeStarted   Type = "fade_started"
	TypeFadeCompleted Type = "fade_completed"
	TypeFadeAborted   Type = "fade_aborted"
	TypeSceneApplied  Type = "scene_applied"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Type Type
	Data map[string]any
}

// Handler processes one event. Handlers run on pool workers and must not
// assume any ordering between events of different types.
type Handler func(Event)

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

type job struct {
	event   Event
	handler Handler
}

// Bus is a worker-pool pub/sub hub.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler

	queue chan job
	wg    sync.WaitGroup

	// closing signals publishers to stop before the queue is closed.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a bus with default worker pool sizing.
func New() *Bus {
	return NewWithConfig(defaultWorkers, defaultQueueSize)
}

// NewWithConfig creates a bus with a custom worker count and queue size.
func NewWithConfig(workers, queueSize int) *Bus {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	b := &Bus{
		handlers: make(map[Type][]Handler),
		queue:    make(chan job, queueSize),
		closing:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	log.Debug().Int("workers", workers).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for j := range b.queue {
		b.dispatch(j)
	}
}

func (b *Bus) dispatch(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(j.event.Type)).
				Msg("Event handler panicked")
		}
	}()
	j.handler(j.event)
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish fans the event out to all subscribed handlers without blocking.
// The read lock is held across the sends so Close cannot close the queue
// mid-publish.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closing:
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	default:
	}

	for _, h := range b.handlers[event.Type] {
		select {
		case b.queue <- job{event: event, handler: h}:
		default:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Close drains the pool and waits for the workers up to the context deadline.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
		b.mu.Lock()
		close(b.queue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
