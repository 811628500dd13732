package user

import (
	"context"
	"log/slog"
	"time"

	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
	"github.com/sethvargo/go-retry"
)

// AuditStore is the append-only side of the repository the recorder needs.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, entry *userDatamodel.AuditEntry) error
	ListAuditEntries(ctx context.Context, userID int64) ([]*userDatamodel.AuditEntry, error)
}

// AuditRecorder appends one entry per role or permission change. It runs
// after the user mutation has committed and never undoes it.
type AuditRecorder struct {
	store   AuditStore
	logger  *slog.Logger
	backoff func() retry.Backoff
}

func NewAuditRecorder(store AuditStore, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
		},
	}
}

// Record writes the entry, retrying transient store failures. at is the time
// of the user mutation, not of this write.
func (r *AuditRecorder) Record(ctx context.Context, userID int64, field AuditField, value string, at time.Time) (*AuditEntry, error) {
	row := &userDatamodel.AuditEntry{
		UserID:    userID,
		Field:     string(field),
		Value:     value,
		UpdatedAt: at,
	}

	// a client disconnect after commit must not drop the entry
	ctx = context.WithoutCancel(ctx)

	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		row.ID = 0
		if err := r.store.CreateAuditEntry(ctx, row); err != nil {
			r.logger.Warn("audit write failed", "user_id", userID, "field", field, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return AuditEntryFromDataModel(row), nil
}

func (r *AuditRecorder) Trail(ctx context.Context, userID int64) ([]*AuditEntry, error) {
	rows, err := r.store.ListAuditEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]*AuditEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, AuditEntryFromDataModel(row))
	}
	return entries, nil
}
