package user

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/user-management/internal"
	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
	"github.com/frahmantamala/user-management/internal/lock"
	"github.com/frahmantamala/user-management/pkg/logger"
	"github.com/sethvargo/go-retry"
)

// Repository sentinels. Get* methods return nil, nil for a missing row;
// writes addressed by id return ErrRecordNotFound.
var (
	ErrRecordNotFound = errors.New("user record not found")
	ErrDuplicateKey   = errors.New("user record violates a unique key")
	ErrStaleRecord    = errors.New("user record changed since it was read")
)

type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*userDatamodel.User, error)
	// GetByIDWithCredentials includes password_hash and row-locks the user
	// when called inside a transaction on a store that supports it.
	GetByIDWithCredentials(ctx context.Context, id int64) (*userDatamodel.User, error)
	GetByEmail(ctx context.Context, email string) (*userDatamodel.User, error)
	GetByUserName(ctx context.Context, userName string) (*userDatamodel.User, error)
	GetAll(ctx context.Context) ([]*userDatamodel.User, error)
	Search(ctx context.Context, filter SearchFilter) ([]*userDatamodel.User, error)

	Create(ctx context.Context, u *userDatamodel.User) error
	// Update writes the allow-listed columns only if password_hash still
	// equals expectedHash, and returns ErrStaleRecord otherwise.
	Update(ctx context.Context, u *userDatamodel.User, expectedHash string) error
	Deactivate(ctx context.Context, id int64, at time.Time) error
	Reactivate(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error

	ListRetiredPasswords(ctx context.Context, userID int64) ([]*userDatamodel.RetiredPassword, error)
	CreateRetiredPassword(ctx context.Context, r *userDatamodel.RetiredPassword) error
	CreateAuditEntry(ctx context.Context, entry *userDatamodel.AuditEntry) error
	ListAuditEntries(ctx context.Context, userID int64) ([]*userDatamodel.AuditEntry, error)

	WithinTransaction(ctx context.Context, fn func(tx RepositoryAPI) error) error
}

// Locker serializes mutations of one user across goroutines, and across
// replicas when backed by redis.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Service struct {
	repo   RepositoryAPI
	hasher Hasher
	locker Locker
	policy *PasswordPolicy
	audit  *AuditRecorder
	logger *slog.Logger

	now             func() time.Time
	conflictBackoff func() retry.Backoff
}

func NewService(repo RepositoryAPI, hasher Hasher, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		hasher: hasher,
		locker: locker,
		policy: NewPasswordPolicy(hasher),
		audit:  NewAuditRecorder(repo, logger),
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
		conflictBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(4, retry.NewExponential(20*time.Millisecond))
		},
	}
}

// log prefers the request logger so trace and caller fields are attached.
func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}

type auditChange struct {
	field AuditField
	value string
}

func (s *Service) Create(ctx context.Context, dto CreateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		s.log(ctx).Warn("user validation failed", "error", err)
		return nil, err
	}

	email := NormalizeEmail(dto.Email)
	userName := NormalizeUserName(dto.UserName)

	if err := s.ensureEmailFree(ctx, s.repo, email, 0); err != nil {
		return nil, err
	}
	if err := s.ensureUserNameFree(ctx, s.repo, userName, 0); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, dto.Password)
	if err != nil {
		s.log(ctx).Error("failed to hash password", "error", err)
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	row := &userDatamodel.User{
		Email:           email,
		UserName:        userName,
		FirstName:       strings.TrimSpace(dto.FirstName),
		LastName:        strings.TrimSpace(dto.LastName),
		PasswordHash:    hash,
		Permission:      false,
		Status:          string(StatusActive),
		DateDeactivated: s.now(),
	}

	if err := s.repo.Create(ctx, row); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return nil, s.resolveDuplicate(ctx, email, userName, 0)
		}
		s.log(ctx).Error("failed to create user", "error", err, "email", email)
		return nil, internal.NewStorageError("failed to create user", err)
	}

	s.log(ctx).Info("user created", "user_id", row.ID, "user_name", row.UserName)

	u := FromDataModel(row)
	u.PasswordHash = ""
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	row, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log(ctx).Error("failed to get user", "error", err, "user_id", id)
		return nil, internal.NewStorageError("failed to get user", err)
	}
	if row == nil {
		return nil, internal.ErrUserNotFound
	}
	return FromDataModel(row), nil
}

func (s *Service) GetAll(ctx context.Context) ([]*User, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		s.log(ctx).Error("failed to list users", "error", err)
		return nil, internal.NewStorageError("failed to list users", err)
	}
	return FromDataModelList(rows), nil
}

// Search matches name against first or last name and email against email,
// both as case-insensitive substrings. No filter returns every user.
func (s *Service) Search(ctx context.Context, filter SearchFilter) ([]*User, error) {
	filter.Name = strings.TrimSpace(filter.Name)
	filter.Email = strings.TrimSpace(filter.Email)
	if filter.Name == "" && filter.Email == "" {
		return s.GetAll(ctx)
	}

	rows, err := s.repo.Search(ctx, filter)
	if err != nil {
		s.log(ctx).Error("failed to search users", "error", err, "name", filter.Name, "email", filter.Email)
		return nil, internal.NewStorageError("failed to search users", err)
	}
	return FromDataModelList(rows), nil
}

func (s *Service) Update(ctx context.Context, id int64, dto UpdateUserDTO) (*User, error) {
	dto = dto.WithoutEmptyFields()
	if err := dto.Validate(); err != nil {
		s.log(ctx).Warn("user update validation failed", "error", err, "user_id", id)
		return nil, err
	}
	return s.applyUpdate(ctx, id, dto)
}

func (s *Service) ChangePassword(ctx context.Context, id int64, dto ChangePasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}
	_, err := s.applyUpdate(ctx, id, UpdateUserDTO{
		Password:        &dto.Password,
		ConfirmPassword: &dto.ConfirmPassword,
	})
	return err
}

// lockUser takes the per-user lock. A wait that times out or is abandoned by
// the caller is reported as a concurrent update so the client can retry.
func (s *Service) lockUser(ctx context.Context, id int64) (func(), error) {
	unlock, err := s.locker.Lock(ctx, lock.UserKey(id))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.log(ctx).Info("gave up waiting for user lock", "error", err, "user_id", id)
			return nil, internal.ErrConcurrentUpdate.WithCause(err)
		}
		s.log(ctx).Error("failed to acquire user lock", "error", err, "user_id", id)
		return nil, internal.NewInternalError("failed to acquire user lock", err)
	}
	return unlock, nil
}

// applyUpdate runs one logical update under the user's lock: read with
// credentials, merge the allow-listed fields, rotate the password if one was
// supplied, and write conditionally on the hash that was read. A stale write
// rolls the whole transaction back and is retried. Role and permission
// changes are audited once the update has committed.
func (s *Service) applyUpdate(ctx context.Context, id int64, dto UpdateUserDTO) (*User, error) {
	unlock, err := s.lockUser(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		updated *userDatamodel.User
		changes []auditChange
		at      time.Time
	)

	attempt := 0
	err = retry.Do(ctx, s.conflictBackoff(), func(ctx context.Context) error {
		attempt++
		updated, changes = nil, nil
		at = s.now()

		err := s.repo.WithinTransaction(ctx, func(tx RepositoryAPI) error {
			current, err := tx.GetByIDWithCredentials(ctx, id)
			if err != nil {
				return internal.NewStorageError("failed to load user", err)
			}
			if current == nil {
				return internal.ErrUserNotFound
			}

			next := *current
			if changes, err = s.merge(ctx, tx, current, &next, dto); err != nil {
				return err
			}

			if dto.Password != nil {
				hash, err := s.policy.Rotate(ctx, tx, current, *dto.Password)
				if err != nil {
					return err
				}
				next.PasswordHash = hash
			}

			next.UpdatedAt = at
			if err := tx.Update(ctx, &next, current.PasswordHash); err != nil {
				return err
			}
			updated = &next
			return nil
		})
		if errors.Is(err, ErrStaleRecord) {
			s.log(ctx).Warn("user changed during update, retrying", "user_id", id, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, s.updateError(ctx, id, dto, err)
	}

	for _, c := range changes {
		if _, err := s.audit.Record(ctx, id, c.field, c.value, at); err != nil {
			s.log(ctx).Error("audit entry not recorded",
				"error", err,
				"user_id", id,
				"field", c.field,
				"value", c.value)
		}
	}

	s.log(ctx).Info("user updated",
		"user_id", id,
		"password_changed", dto.Password != nil,
		"audited_changes", len(changes))

	u := FromDataModel(updated)
	u.PasswordHash = ""
	return u, nil
}

// merge copies the supplied allow-listed fields onto next and reports the
// privileged fields whose value actually changed.
func (s *Service) merge(ctx context.Context, tx RepositoryAPI, current, next *userDatamodel.User, dto UpdateUserDTO) ([]auditChange, error) {
	if dto.Email != nil {
		email := NormalizeEmail(*dto.Email)
		if email != current.Email {
			if err := s.ensureEmailFree(ctx, tx, email, current.ID); err != nil {
				return nil, err
			}
			next.Email = email
		}
	}
	if dto.UserName != nil {
		userName := NormalizeUserName(*dto.UserName)
		if userName != current.UserName {
			if err := s.ensureUserNameFree(ctx, tx, userName, current.ID); err != nil {
				return nil, err
			}
			next.UserName = userName
		}
	}
	if dto.FirstName != nil {
		next.FirstName = strings.TrimSpace(*dto.FirstName)
	}
	if dto.LastName != nil {
		next.LastName = strings.TrimSpace(*dto.LastName)
	}

	var changes []auditChange
	if dto.Role != nil {
		role := strings.TrimSpace(*dto.Role)
		var nextRole *string
		if role != "" {
			nextRole = &role
		}
		if !sameRole(current.Role, nextRole) {
			next.Role = nextRole
			changes = append(changes, auditChange{field: AuditFieldRole, value: FromDataModel(next).RoleValue()})
		}
	}
	if dto.Permission != nil && *dto.Permission != current.Permission {
		next.Permission = *dto.Permission
		changes = append(changes, auditChange{field: AuditFieldPermission, value: strconv.FormatBool(*dto.Permission)})
	}
	return changes, nil
}

func (s *Service) updateError(ctx context.Context, id int64, dto UpdateUserDTO, err error) error {
	switch {
	case errors.Is(err, ErrStaleRecord):
		s.log(ctx).Warn("user update abandoned after repeated conflicts", "user_id", id)
		return internal.ErrConcurrentUpdate.WithCause(err)
	case errors.Is(err, ErrDuplicateKey):
		var email, userName string
		if dto.Email != nil {
			email = NormalizeEmail(*dto.Email)
		}
		if dto.UserName != nil {
			userName = NormalizeUserName(*dto.UserName)
		}
		return s.resolveDuplicate(ctx, email, userName, id)
	}

	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}
	s.log(ctx).Error("failed to update user", "error", err, "user_id", id)
	return internal.NewStorageError("failed to update user", err)
}

func (s *Service) ensureEmailFree(ctx context.Context, repo RepositoryAPI, email string, selfID int64) error {
	existing, err := repo.GetByEmail(ctx, email)
	if err != nil {
		return internal.NewStorageError("failed to check email", err)
	}
	if existing != nil && existing.ID != selfID {
		return internal.ErrDuplicateEmail
	}
	return nil
}

func (s *Service) ensureUserNameFree(ctx context.Context, repo RepositoryAPI, userName string, selfID int64) error {
	existing, err := repo.GetByUserName(ctx, userName)
	if err != nil {
		return internal.NewStorageError("failed to check user name", err)
	}
	if existing != nil && existing.ID != selfID {
		return internal.ErrDuplicateUserName
	}
	return nil
}

// resolveDuplicate names the unique key a store-level violation hit. It runs
// outside the failed transaction; an empty email or userName was not written.
func (s *Service) resolveDuplicate(ctx context.Context, email, userName string, selfID int64) error {
	if email != "" {
		if err := s.ensureEmailFree(ctx, s.repo, email, selfID); err != nil {
			return err
		}
	}
	if userName != "" {
		if err := s.ensureUserNameFree(ctx, s.repo, userName, selfID); err != nil {
			return err
		}
	}
	if email != "" {
		return internal.ErrDuplicateEmail
	}
	return internal.ErrDuplicateUserName
}

func sameRole(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Deactivate is idempotent: every call stamps dateDeactivated.
func (s *Service) Deactivate(ctx context.Context, id int64) (*User, error) {
	if err := s.repo.Deactivate(ctx, id, s.now()); err != nil {
		return nil, s.statusError(ctx, err, id, "deactivate")
	}
	s.log(ctx).Info("user deactivated", "user_id", id)
	return s.GetByID(ctx, id)
}

// Reactivate is idempotent and leaves dateDeactivated as history.
func (s *Service) Reactivate(ctx context.Context, id int64) (*User, error) {
	if err := s.repo.Reactivate(ctx, id, s.now()); err != nil {
		return nil, s.statusError(ctx, err, id, "reactivate")
	}
	s.log(ctx).Info("user reactivated", "user_id", id)
	return s.GetByID(ctx, id)
}

func (s *Service) statusError(ctx context.Context, err error, id int64, op string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return internal.ErrUserNotFound
	}
	s.log(ctx).Error("failed to change user status", "error", err, "user_id", id, "op", op)
	return internal.NewStorageError("failed to "+op+" user", err)
}

// Delete removes the user row. The password ledger and audit trail are kept.
func (s *Service) Delete(ctx context.Context, id int64) error {
	unlock, err := s.lockUser(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return internal.ErrUserNotFound
		}
		s.log(ctx).Error("failed to delete user", "error", err, "user_id", id)
		return internal.NewStorageError("failed to delete user", err)
	}

	s.log(ctx).Info("user deleted", "user_id", id)
	return nil
}

// AuthenticateLookup resolves a user by user name and reports whether the
// account may sign in. It does not check credentials.
func (s *Service) AuthenticateLookup(ctx context.Context, dto AuthenticateLookupDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	row, err := s.repo.GetByUserName(ctx, NormalizeUserName(dto.UserName))
	if err != nil {
		s.log(ctx).Error("failed to look up user", "error", err)
		return nil, internal.NewStorageError("failed to look up user", err)
	}
	if row == nil {
		return nil, internal.ErrUserNotFound
	}

	u := FromDataModel(row)
	if !u.IsActiveUser() {
		s.log(ctx).Info("lookup of inactive user", "user_id", u.ID)
		return nil, internal.ErrUserInactive
	}
	return u, nil
}

func (s *Service) GetProfile(ctx context.Context) (*User, error) {
	callerID, ok := internal.CallerIDFromContext(ctx)
	if !ok {
		return nil, internal.ErrInvalidToken
	}
	return s.GetByID(ctx, callerID)
}

// UpdateProfile updates the caller's own record. Role and permission are
// never taken from a self-service request.
func (s *Service) UpdateProfile(ctx context.Context, dto UpdateUserDTO) (*User, error) {
	callerID, ok := internal.CallerIDFromContext(ctx)
	if !ok {
		return nil, internal.ErrInvalidToken
	}
	return s.Update(ctx, callerID, dto.WithoutPrivileges())
}

// AuditTrail lists the user's audit entries oldest first. Entries outlive
// the user, so a deleted user with history still has a trail.
func (s *Service) AuditTrail(ctx context.Context, id int64) ([]*AuditEntry, error) {
	entries, err := s.audit.Trail(ctx, id)
	if err != nil {
		s.log(ctx).Error("failed to load audit trail", "error", err, "user_id", id)
		return nil, internal.NewStorageError("failed to load audit trail", err)
	}
	if len(entries) == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
