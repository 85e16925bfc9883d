package msgstat

import (
	"context"
	"log/slog"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/metrics"
)

type StatisticsService struct {
	log     *slog.Logger
	MsgStat MsgStat
}

type MsgStat interface {
	Query(filter models.StatsFilter) []models.AccountStats
	QueueDepth() int
}

func New(log *slog.Logger, msgStat MsgStat) *StatisticsService {
	return &StatisticsService{
		log:     log,
		MsgStat: msgStat,
	}
}

// Stats returns a point-in-time copy of the account stats matching filter.
func (s *StatisticsService) Stats(ctx context.Context, filter models.StatsFilter) []models.AccountStats {
	const op = "services.msgstat.Stats"

	log := s.log.With(
		slog.String("op", op),
	)

	stats := s.MsgStat.Query(filter)

	log.Debug("stats queried", slog.Int("accounts", len(stats)))

	return stats
}

// QueueDepth is the momentary number of admitted messages awaiting dispatch.
func (s *StatisticsService) QueueDepth(_ context.Context) int {
	depth := s.MsgStat.QueueDepth()
	metrics.SetQueueDepth(depth)

	return depth
}
