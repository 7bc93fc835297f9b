package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"homeclean/database/repository"
	"homeclean/models"
)

const migrateBatch = 200

// StatusNormalizer rewrites one reservation's legacy status through the
// versioned update path.
type StatusNormalizer interface {
	NormalizeStatus(ctx context.Context, id string) (*models.Reservation, error)
}

// MigrateLegacyStatuses rewrites every reservation whose stored status is a
// legacy spelling. Unknown spellings are logged and left in place. It returns
// the number of reservations rewritten.
func MigrateLegacyStatuses(ctx context.Context, reservations repository.ReservationRepository, n StatusNormalizer, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrated, skipped := 0, 0
	q := repository.ReservationQuery{NonCanonicalStatus: true, Limit: migrateBatch}
	for {
		page, err := reservations.Find(ctx, q)
		if err != nil {
			return migrated, fmt.Errorf("find legacy statuses: %w", err)
		}
		for _, r := range page {
			updated, err := n.NormalizeStatus(ctx, r.ID)
			if err != nil {
				skipped++
				logger.Warn("Legacy status left as is",
					zap.String("reservationId", r.ID),
					zap.String("status", string(r.Status)),
					zap.Error(err))
				continue
			}
			migrated++
			logger.Info("Normalized legacy status",
				zap.String("reservationId", r.ID),
				zap.String("from", string(r.Status)),
				zap.String("to", string(updated.Status)))
		}
		if len(page) < migrateBatch {
			break
		}
		q.AfterID = page[len(page)-1].ID
	}
	if migrated > 0 || skipped > 0 {
		logger.Info("Legacy status migration done", zap.Int("migrated", migrated), zap.Int("skipped", skipped))
	}
	return migrated, nil
}
