package user

import (
	"context"

	"github.com/frahmantamala/user-management/internal"
	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
)

// PasswordPolicy decides whether a candidate password may replace a user's
// current one and archives the outgoing hash.
type PasswordPolicy struct {
	hasher Hasher
}

func NewPasswordPolicy(hasher Hasher) *PasswordPolicy {
	return &PasswordPolicy{hasher: hasher}
}

// Rotate checks candidate against the current hash and every retired hash of
// current.ID, then appends current.PasswordHash to the ledger and returns the
// digest to store. current must be the row read inside the caller's
// transaction; its hash is archived as read, never re-fetched.
func (p *PasswordPolicy) Rotate(ctx context.Context, repo RepositoryAPI, current *userDatamodel.User, candidate string) (string, error) {
	if current.PasswordHash != "" {
		reused, err := p.hasher.Verify(ctx, candidate, current.PasswordHash)
		if err != nil {
			return "", internal.NewInternalError("failed to verify current password", err)
		}
		if reused {
			return "", internal.ErrPasswordReused
		}
	}

	if err := p.checkRetired(ctx, repo, current.ID, candidate); err != nil {
		return "", err
	}

	newHash, err := p.hasher.Hash(ctx, candidate)
	if err != nil {
		return "", internal.NewInternalError("failed to hash password", err)
	}

	retired := &userDatamodel.RetiredPassword{
		UserID:      current.ID,
		RetiredHash: current.PasswordHash,
	}
	if err := repo.CreateRetiredPassword(ctx, retired); err != nil {
		return "", internal.NewStorageError("failed to archive password", err)
	}

	return newHash, nil
}

func (p *PasswordPolicy) checkRetired(ctx context.Context, repo RepositoryAPI, userID int64, candidate string) error {
	retired, err := repo.ListRetiredPasswords(ctx, userID)
	if err != nil {
		return internal.NewStorageError("failed to load password history", err)
	}

	for _, r := range retired {
		used, err := p.hasher.Verify(ctx, candidate, r.RetiredHash)
		if err != nil {
			return internal.NewInternalError("failed to verify password history", err)
		}
		if used {
			return internal.ErrPasswordReused
		}
	}
	return nil
}
