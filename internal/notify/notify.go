// Package notify builds and delivers user notifications about overlaps and
// friends travelling nearby. Delivery is fire-and-forget: a failure here
// never affects the overlap or match it describes.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cragmate/partner-engine/internal/logger"
	"github.com/cragmate/partner-engine/internal/metrics"
	"github.com/cragmate/partner-engine/internal/model"
)

// Type classifies a notification.
type Type string

const (
	TripOverlap Type = "trip_overlap"
	CrossPath   Type = "cross_path"
)

// Priority is the delivery urgency.
type Priority string

const (
	Normal   Priority = "normal"
	High     Priority = "high"
	Critical Priority = "critical"
)

// Notification is one message for one recipient.
type Notification struct {
	Recipient model.UserID   `json:"recipient"`
	Type      Type           `json:"type"`
	Priority  Priority       `json:"priority"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Publisher is the transport NATSSink publishes through.
type Publisher interface {
	PublishNotify(user model.UserID, data []byte) error
}

// NATSSink publishes notifications as JSON on notify.<recipient>.
type NATSSink struct {
	pub Publisher
}

func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Notify(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	if err := s.pub.PublishNotify(n.Recipient, data); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", n.Recipient, err)
	}
	return nil
}

// LogSink only logs. It backs `serve` when no NATS server is configured.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("component", "notify")}
}

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	s.log.Info("notification",
		"recipient", n.Recipient,
		"type", n.Type,
		"priority", n.Priority,
		"title", n.Title,
	)
	return nil
}

// DefaultQueueSize is the Dispatcher buffer when none is configured.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned when the Dispatcher buffer has no room.
	ErrQueueFull = errors.New("notify: queue full")
	// ErrClosed is returned after the Dispatcher has been closed.
	ErrClosed = errors.New("notify: dispatcher closed")
)

// Dispatcher queues notifications for a background worker. Enqueue never
// blocks: when the queue is full the notification is dropped and counted.
type Dispatcher struct {
	sink    Notifier
	log     *logger.Logger
	timeout time.Duration

	queue chan Notification
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a worker that forwards queued notifications to sink.
func NewDispatcher(sink Notifier, size int, log *logger.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:    sink,
		log:     log.With("component", "notify"),
		timeout: 5 * time.Second,
		queue:   make(chan Notification, size),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue schedules n for delivery and reports whether it was accepted.
func (d *Dispatcher) Enqueue(n Notification) bool {
	return d.enqueue(n) == nil
}

// Notify implements Notifier by enqueueing. It returns ErrQueueFull or
// ErrClosed when n was dropped; sink failures after that are only logged.
func (d *Dispatcher) Notify(_ context.Context, n Notification) error {
	return d.enqueue(n)
}

func (d *Dispatcher) enqueue(n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return ErrClosed
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	select {
	case d.queue <- n:
		return nil
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		d.log.Warn("notification queue full, dropping", "recipient", n.Recipient, "type", n.Type)
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Notify(ctx, n)
		cancel()
		if err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			d.log.Error("deliver notification", "recipient", n.Recipient, "type", n.Type, "error", err)
			continue
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
	}
}
