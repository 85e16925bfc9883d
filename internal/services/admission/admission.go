package admission

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/logger/sl"
	"smsgate/internal/lib/metrics"
	"smsgate/internal/storage/memory"
)

type Admission struct {
	log      *slog.Logger
	gate     Gate
	limits   memory.Limits
	validate *validator.Validate
}

// Gate counts and queues the messages it admits.
type Gate interface {
	Admit(batch []models.Message, limits memory.Limits) (admitted []models.Message, rejected int)
	QueueDepth() int
}

func New(
	log *slog.Logger,
	gate Gate,
	limits memory.Limits,
) *Admission {
	return &Admission{
		log:      log,
		gate:     gate,
		limits:   limits,
		validate: validator.New(),
	}
}

// Submit admits as much of batch as the phone and account limits allow.
// Malformed messages never reach the counters and are reported as rejected
// together with the ones over the limits. Rejected messages are dropped, not
// retried.
func (a *Admission) Submit(
	ctx context.Context,
	batch []models.Message,
) models.AdmissionSummary {
	const op = "services.admission.Submit"

	log := a.log.With(
		slog.String("op", op),
	)

	prepared := make([]models.Message, 0, len(batch))
	invalid := 0
	for i, msg := range batch {
		if err := a.validate.Struct(msg); err != nil {
			log.Warn("rejecting malformed message", slog.Int("index", i), sl.Err(err))
			invalid++
			continue
		}

		msg.ID = uuid.NewString()
		prepared = append(prepared, msg)
	}

	admitted, rejected := a.gate.Admit(prepared, a.limits)
	rejected += invalid

	ids := make([]string, 0, len(admitted))
	for _, msg := range admitted {
		ids = append(ids, msg.ID)
	}

	metrics.RecordAdmission(len(admitted), rejected)
	metrics.SetQueueDepth(a.gate.QueueDepth())

	if rejected > 0 {
		log.Warn("messages rejected",
			slog.Int("admitted", len(admitted)),
			slog.Int("rejected", rejected),
			slog.Int("invalid", invalid),
		)
	} else {
		log.Debug("messages queued", slog.Int("admitted", len(admitted)))
	}

	return models.AdmissionSummary{
		Admitted:   len(admitted),
		Rejected:   rejected,
		Invalid:    invalid,
		MessageIDs: ids,
	}
}
