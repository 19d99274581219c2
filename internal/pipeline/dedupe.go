package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
)

// RecordChecker answers whether an earthquake has already been published.
type RecordChecker interface {
	IsRecorded(ctx context.Context, id string) (bool, error)
}

// SelectNew returns the earthquakes not yet recorded, preserving input order,
// along with the number of failed lookups. A failed lookup drops the
// earthquake unless failOpen is set, in which case it is treated as new.
func SelectNew(ctx context.Context, quakes []domain.Earthquake, store RecordChecker, failOpen bool, logger *slog.Logger) ([]domain.Earthquake, int) {
	var (
		fresh  []domain.Earthquake
		errors int
	)
	for _, q := range quakes {
		recorded, err := store.IsRecorded(ctx, q.ID)
		if err != nil {
			errors++
			logger.Warn("posted-earthquake lookup failed",
				"quake_id", q.ID,
				"fail_open", failOpen,
				"error", err,
			)
			if failOpen {
				fresh = append(fresh, q)
			}
			continue
		}
		if !recorded {
			fresh = append(fresh, q)
		}
	}
	return fresh, errors
}
