package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"smsgate/internal/lib/logger/sl"
	"smsgate/internal/lib/metrics"
	"smsgate/internal/storage/memory"
)

const DefaultInterval = 60 * time.Second

type Store interface {
	Sweep(cutoff time.Time) memory.SweepResult
}

type Sweeper struct {
	log      *slog.Logger
	store    Store
	clock    clockwork.Clock
	interval time.Duration
}

func New(log *slog.Logger, store Store, clock clockwork.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Sweeper{
		log:      log,
		store:    store,
		clock:    clock,
		interval: interval,
	}
}

func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Sweep evicts stats not updated within the last interval, along with their
// in-flight counters.
func (s *Sweeper) Sweep(_ context.Context) error {
	const op = "services.sweeper.Sweep"

	log := s.log.With(
		slog.String("op", op),
	)

	cutoff := s.clock.Now().Add(-s.interval)
	res := s.store.Sweep(cutoff)

	metrics.RecordEvicted(res.Accounts, res.Phones)

	for _, v := range res.Violations {
		log.Error("evicted counter still had in-flight messages", sl.Err(v))
	}
	metrics.RecordInvariantViolations("sweep", len(res.Violations))

	if res.Accounts > 0 || res.Phones > 0 {
		log.Info("stale stats evicted",
			slog.Time("cutoff", cutoff),
			slog.Int("accounts", res.Accounts),
			slog.Int("phones", res.Phones),
		)
	}

	if len(res.Violations) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(res.Violations...))
	}

	return nil
}
