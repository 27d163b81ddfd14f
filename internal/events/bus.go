// Package events carries change notifications from the graph cache to
// whoever cares (sync, UI push, metrics). Publishing never blocks the cache
// and the cache does not depend on any consumer being registered.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind describes what happened to an entity.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Event describes one structural mutation.
type Event struct {
	Kind       Kind
	EntityName string // "notes", "branches", "attributes", "blobs"
	EntityID   string
	NoteID     string // owning or child note, when applicable
	Hash       string
	ChangeID   string
	Time       time.Time
}

// Consumer receives events on a bus worker goroutine.
type Consumer interface {
	Name() string
	Consume(Event) error
}

type funcConsumer struct {
	name string
	fn   func(Event) error
}

func (f funcConsumer) Name() string          { return f.name }
func (f funcConsumer) Consume(e Event) error { return f.fn(e) }

// ConsumerFunc wraps a function as a named Consumer.
func ConsumerFunc(name string, fn func(Event) error) Consumer {
	return funcConsumer{name: name, fn: fn}
}

// Config holds bus configuration.
type Config struct {
	BufferSize int
	Workers    int
	Logger     *slog.Logger
}

// DefaultConfig returns the default bus configuration. A single worker keeps
// events in publish order.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1024,
		Workers:    1,
	}
}

// Stats are cumulative bus counters.
type Stats struct {
	Published      uint64
	Processed      uint64
	Dropped        uint64
	ConsumerErrors uint64
}

// Bus fans events out to consumers asynchronously.
type Bus struct {
	ch      chan Event
	workers int
	logger  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu        sync.Mutex
	consumers []Consumer

	published      atomic.Uint64
	processed      atomic.Uint64
	dropped        atomic.Uint64
	consumerErrors atomic.Uint64
}

// New creates a bus. Workers start when the first consumer subscribes.
func New(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ch:      make(chan Event, cfg.BufferSize),
		workers: cfg.Workers,
		logger:  cfg.Logger.With("component", "events"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a consumer. Names must be unique.
func (b *Bus) Subscribe(c Consumer) error {
	if b == nil {
		return fmt.Errorf("event bus not initialized")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("consumer %s already registered", c.Name())
		}
	}
	b.consumers = append(b.consumers, c)

	if len(b.consumers) == 1 && b.ctx.Err() == nil && !b.running.Load() {
		b.start()
	}
	return nil
}

// Publish enqueues an event without blocking. It returns false when the
// event was dropped: no consumers, bus stopped, or buffer full.
func (b *Bus) Publish(e Event) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	select {
	case b.ch <- e:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Debug("event dropped due to full buffer",
			"entity", e.EntityName,
			"entity_id", e.EntityID,
		)
		return false
	}
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	logger := b.logger.With("worker_id", id)

	for {
		select {
		case <-b.ctx.Done():
			// Drain what was accepted before shutdown.
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e, logger)
				default:
					return
				}
			}
		case e := <-b.ch:
			b.dispatch(e, logger)
		}
	}
}

func (b *Bus) dispatch(e Event, logger *slog.Logger) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, c := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.consumerErrors.Add(1)
					logger.Error("consumer panicked", "consumer", c.Name(), "panic", r)
				}
			}()
			if err := c.Consume(e); err != nil {
				b.consumerErrors.Add(1)
				logger.Error("consumer error", "consumer", c.Name(), "error", err)
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, lets workers drain the buffer and waits
// for them up to timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Published:      b.published.Load(),
		Processed:      b.processed.Load(),
		Dropped:        b.dropped.Load(),
		ConsumerErrors: b.consumerErrors.Load(),
	}
}
