package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/logger/sl"
	"smsgate/internal/lib/metrics"
)

const DefaultSinkTimeout = 5 * time.Second

var ErrSinkUnavailable = errors.New("delivery sink unavailable")

// Sink transmits a batch and reports one outcome per message, in order.
type Sink interface {
	Deliver(ctx context.Context, msgs []models.Message) ([]bool, error)
}

type Store interface {
	Drain() []models.Message
	QueueDepth() int
	Record(msgs []models.Message, delivered []bool, now time.Time)
	Release(msgs []models.Message) []error
}

type Dispatcher struct {
	log         *slog.Logger
	store       Store
	sink        Sink
	clock       clockwork.Clock
	sinkTimeout time.Duration
}

// New builds a dispatcher. A nil sink falls back to NopSink, a non-positive
// timeout to DefaultSinkTimeout.
func New(
	log *slog.Logger,
	store Store,
	sink Sink,
	clock clockwork.Clock,
	sinkTimeout time.Duration,
) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	if sinkTimeout <= 0 {
		sinkTimeout = DefaultSinkTimeout
	}

	return &Dispatcher{
		log:         log,
		store:       store,
		sink:        sink,
		clock:       clock,
		sinkTimeout: sinkTimeout,
	}
}

// Tick drains the queue, delivers the batch, records outcomes and frees the
// in-flight slots of every drained message whatever the outcome.
func (d *Dispatcher) Tick(ctx context.Context) error {
	const op = "services.dispatcher.Tick"

	log := d.log.With(
		slog.String("op", op),
	)

	msgs := d.store.Drain()
	metrics.SetQueueDepth(d.store.QueueDepth())
	if len(msgs) == 0 {
		return nil
	}

	delivered, sinkErr := d.deliver(ctx, msgs)
	if sinkErr != nil {
		metrics.RecordSinkError()
		log.Error("delivery failed, marking batch as failed",
			slog.Int("batch", len(msgs)),
			sl.Err(sinkErr),
		)
	}

	d.store.Record(msgs, delivered, d.clock.Now())

	ok := 0
	for _, v := range delivered {
		if v {
			ok++
		}
	}
	metrics.RecordDispatched(metrics.OutcomeDelivered, ok)
	metrics.RecordDispatched(metrics.OutcomeFailed, len(msgs)-ok)

	violations := d.store.Release(msgs)
	for _, v := range violations {
		log.Error("in-flight counter out of sync with queue", sl.Err(v))
	}
	metrics.RecordInvariantViolations("release", len(violations))

	log.Info("batch dispatched",
		slog.Int("batch", len(msgs)),
		slog.Int("delivered", ok),
		slog.Int("failed", len(msgs)-ok),
	)

	if err := errors.Join(append([]error{sinkErr}, violations...)...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// deliver calls the sink bounded by sinkTimeout. Any failure marks every
// message as failed.
func (d *Dispatcher) deliver(ctx context.Context, msgs []models.Message) ([]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	type result struct {
		delivered []bool
		err       error
	}

	resCh := make(chan result, 1)
	go func() {
		delivered, err := d.sink.Deliver(ctx, msgs)
		resCh <- result{delivered: delivered, err: err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err == nil && len(res.delivered) != len(msgs) {
		res.err = fmt.Errorf("sink returned %d outcomes for %d messages", len(res.delivered), len(msgs))
	}
	if res.err != nil {
		return make([]bool, len(msgs)), fmt.Errorf("%w: %w", ErrSinkUnavailable, res.err)
	}

	return res.delivered, nil
}

// NopSink stands in when no delivery transport is configured: every message
// is reported as delivered.
type NopSink struct{}

func (NopSink) Deliver(_ context.Context, msgs []models.Message) ([]bool, error) {
	delivered := make([]bool, len(msgs))
	for i := range delivered {
		delivered[i] = true
	}

	return delivered, nil
}
