package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// DefaultDedupTTL is how long a successful send suppresses repeats
const DefaultDedupTTL = 24 * time.Hour

// Channel delivers events to one audience
type Channel interface {
	// Name identifies the channel in logs and dedup keys
	Name() string

	// Accepts reports whether the channel wants events of this type
	Accepts(eventType event.Type) bool

	// Send delivers the event
	Send(ctx context.Context, evt *event.Event) error
}

// Dispatcher fans events out to registered channels.
// Each channel is an independent error boundary: a failing or panicking
// channel is logged and never affects other channels or the caller.
type Dispatcher interface {
	// Register adds a channel; a channel with the same name is replaced
	Register(ch Channel)

	// Unregister removes a channel by name
	Unregister(name string)

	// Dispatch sends the event to every accepting channel synchronously
	Dispatch(ctx context.Context, evt *event.Event) Report

	// DispatchAsync sends the event in the background
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Channels returns the registered channel names in registration order
	Channels() []string

	// Close stops accepting events and waits for in-flight async sends
	Close() error
}

// Report summarizes one dispatch
type Report struct {
	Sent    []string
	Skipped []string
	Failed  map[string]error
}

// OK reports whether no channel failed
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Err returns a combined error for the failed channels, or nil
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	return fmt.Errorf("notification channels failed: %v", names)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	channels []Channel
	cache    port.DispatchCache
	dedupTTL time.Duration
	logger   Logger

	// lifecycle guards closed and wg.Add so Close never races a pending send
	lifecycle sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithCache enables deduplication against a recent-dispatch cache
func WithCache(cache port.DispatchCache, ttl time.Duration) Option {
	return func(d *eventDispatcher) {
		d.cache = cache
		if ttl > 0 {
			d.dedupTTL = ttl
		}
	}
}

// WithChannels registers channels at construction
func WithChannels(channels ...Channel) Option {
	return func(d *eventDispatcher) {
		for _, ch := range channels {
			d.Register(ch)
		}
	}
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		dedupTTL: DefaultDedupTTL,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// DedupKey builds the cache key for one event on one channel
func DedupKey(evt *event.Event, channel string) string {
	return fmt.Sprintf("%s|%s|%s", evt.DedupKey, evt.Type, channel)
}

func (d *eventDispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.channels {
		if existing.Name() == ch.Name() {
			d.channels[i] = ch
			return
		}
	}
	d.channels = append(d.channels, ch)

	if d.logger != nil {
		d.logger.Info("Notification channel registered", "channel", ch.Name())
	}
}

func (d *eventDispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := make([]Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	d.channels = filtered
}

func (d *eventDispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	return names
}

func (d *eventDispatcher) isClosed() bool {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()
	return d.closed
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) Report {
	if d.isClosed() {
		if d.logger != nil {
			d.logger.Error("Cannot dispatch event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return Report{Failed: map[string]error{"dispatcher": fmt.Errorf("dispatcher is closed")}}
	}
	return d.dispatch(ctx, evt)
}

// dispatch fans out without the closed check; accepted async sends still run during Close
func (d *eventDispatcher) dispatch(ctx context.Context, evt *event.Event) Report {
	report := Report{Failed: map[string]error{}}

	d.mu.RLock()
	channels := append([]Channel(nil), d.channels...)
	d.mu.RUnlock()

	for _, ch := range channels {
		if !ch.Accepts(evt.Type) {
			continue
		}

		key := DedupKey(evt, ch.Name())
		if d.seen(ctx, key) {
			report.Skipped = append(report.Skipped, ch.Name())
			if d.logger != nil {
				d.logger.Info("Duplicate notification suppressed",
					"event_type", evt.Type,
					"dedup_key", evt.DedupKey,
					"channel", ch.Name(),
				)
			}
			continue
		}

		if err := d.safeSend(ctx, evt, ch); err != nil {
			report.Failed[ch.Name()] = err
			if d.logger != nil {
				d.logger.Error("Notification channel failed",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"channel", ch.Name(),
					"error", err,
				)
			}
			continue
		}

		d.mark(ctx, key)
		report.Sent = append(report.Sent, ch.Name())
	}

	if d.logger != nil {
		d.logger.Info("Event dispatched",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"sent", len(report.Sent),
			"skipped", len(report.Skipped),
			"failed", len(report.Failed),
		)
	}

	return report
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	d.wg.Add(1)
	d.lifecycle.Unlock()

	// Detach from the caller's cancellation; the send outlives the request
	asyncCtx := context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		d.dispatch(asyncCtx, evt)
	}()
}

func (d *eventDispatcher) Close() error {
	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.lifecycle.Unlock()

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async sends")
	}

	d.wg.Wait()

	if d.logger != nil {
		d.logger.Info("Dispatcher closed")
	}

	return nil
}

// seen treats cache errors as a miss; a duplicate send beats a lost one
func (d *eventDispatcher) seen(ctx context.Context, key string) bool {
	if d.cache == nil {
		return false
	}
	ok, err := d.cache.Seen(ctx, key)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("Dispatch cache lookup failed", "key", key, "error", err)
		}
		return false
	}
	return ok
}

func (d *eventDispatcher) mark(ctx context.Context, key string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Mark(ctx, key, d.dedupTTL); err != nil && d.logger != nil {
		d.logger.Error("Dispatch cache write failed", "key", key, "error", err)
	}
}

// safeSend runs a channel with panic recovery
func (d *eventDispatcher) safeSend(ctx context.Context, evt *event.Event, ch Channel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panic: %v", r)
			if d.logger != nil {
				d.logger.Error("Channel panic recovered",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"channel", ch.Name(),
					"panic", r,
				)
			}
		}
	}()

	return ch.Send(ctx, evt)
}
