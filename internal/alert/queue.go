package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/metrics"
)

const (
	// DefaultQueueSize bounds alerts waiting for delivery.
	DefaultQueueSize = 64
	// deliveryTimeout bounds one platform call.
	deliveryTimeout = 15 * time.Second
)

// Queue decouples request handling from chat platform latency. Enqueue
// never blocks; alerts beyond the buffer are dropped and counted.
type Queue struct {
	notifier Notifier
	ch       chan Alert
	log      zerolog.Logger
}

// QueueOpts holds parameters for creating a Queue.
type QueueOpts struct {
	Notifier Notifier
	Size     int // defaults to DefaultQueueSize
	Logger   zerolog.Logger
}

// NewQueue creates a Queue. Call Run to start delivery.
func NewQueue(opts QueueOpts) (*Queue, error) {
	if opts.Notifier == nil {
		return nil, fmt.Errorf("alert: queue: notifier is required")
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{notifier: opts.Notifier, ch: make(chan Alert, size), log: opts.Logger}, nil
}

// Notify enqueues a. It implements Notifier so a Queue can stand in for
// the platform notifier it wraps.
func (q *Queue) Notify(_ context.Context, a Alert) error {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	select {
	case q.ch <- a:
		return nil
	default:
		metrics.AlertsTotal.WithLabelValues(string(a.Kind), "dropped").Inc()
		q.log.Warn().Str("kind", string(a.Kind)).Msg("alert queue full, dropping alert")
		return nil
	}
}

// Run delivers queued alerts until ctx is done, then drains what is
// already buffered.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case a := <-q.ch:
			q.deliver(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-q.ch:
					q.deliver(a)
				default:
					return nil
				}
			}
		}
	}
}

func (q *Queue) deliver(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := q.notifier.Notify(ctx, a); err != nil {
		metrics.AlertsTotal.WithLabelValues(string(a.Kind), "error").Inc()
		q.log.Error().Err(err).Str("kind", string(a.Kind)).Msg("alert delivery failed")
		return
	}
	metrics.AlertsTotal.WithLabelValues(string(a.Kind), "sent").Inc()
}
