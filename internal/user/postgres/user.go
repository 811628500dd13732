package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
	"github.com/frahmantamala/user-management/internal/user"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userColumns is the default read view; password_hash is only selected by
// GetByIDWithCredentials.
var userColumns = []string{
	"id", "email", "user_name", "first_name", "last_name", "role", "permission",
	"status", "date_deactivated", "date_reactivated", "created_at", "updated_at",
}

type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository expects db opened with TranslateError so unique index
// violations surface as gorm.ErrDuplicatedKey.
func NewUserRepository(db *gorm.DB) user.RepositoryAPI {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*userDatamodel.User, error) {
	return r.first(r.db.WithContext(ctx).Select(userColumns).Where("id = ?", id))
}

func (r *UserRepository) GetByIDWithCredentials(ctx context.Context, id int64) (*userDatamodel.User, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*userDatamodel.User, error) {
	return r.first(r.db.WithContext(ctx).Select(userColumns).Where("email = ?", email))
}

func (r *UserRepository) GetByUserName(ctx context.Context, userName string) (*userDatamodel.User, error) {
	return r.first(r.db.WithContext(ctx).Select(userColumns).Where("user_name = ?", userName))
}

func (r *UserRepository) first(q *gorm.DB) (*userDatamodel.User, error) {
	var u userDatamodel.User
	if err := q.First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetAll(ctx context.Context) ([]*userDatamodel.User, error) {
	var users []*userDatamodel.User
	err := r.db.WithContext(ctx).Select(userColumns).Order("id ASC").Find(&users).Error
	return users, err
}

func (r *UserRepository) Search(ctx context.Context, filter user.SearchFilter) ([]*userDatamodel.User, error) {
	q := r.db.WithContext(ctx).Select(userColumns)
	if filter.Name != "" {
		pattern := likePattern(filter.Name)
		q = q.Where("(LOWER(first_name) LIKE ? ESCAPE '\\' OR LOWER(last_name) LIKE ? ESCAPE '\\')", pattern, pattern)
	}
	if filter.Email != "" {
		q = q.Where("LOWER(email) LIKE ? ESCAPE '\\'", likePattern(filter.Email))
	}

	var users []*userDatamodel.User
	err := q.Order("id ASC").Find(&users).Error
	return users, err
}

// likePattern lower-cases s and escapes LIKE wildcards so user input only
// ever matches as a literal substring.
func likePattern(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}

func (r *UserRepository) Create(ctx context.Context, u *userDatamodel.User) error {
	return translate(r.db.WithContext(ctx).Create(u).Error)
}

func (r *UserRepository) Update(ctx context.Context, u *userDatamodel.User, expectedHash string) error {
	var role interface{}
	if u.Role != nil {
		role = *u.Role
	}
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).Model(&userDatamodel.User{}).
		Where("id = ? AND password_hash = ?", u.ID, expectedHash).
		Updates(map[string]interface{}{
			"email":         u.Email,
			"user_name":     u.UserName,
			"first_name":    u.FirstName,
			"last_name":     u.LastName,
			"password_hash": u.PasswordHash,
			"role":          role,
			"permission":    u.Permission,
			"updated_at":    updatedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return user.ErrStaleRecord
	}
	return nil
}

func (r *UserRepository) Deactivate(ctx context.Context, id int64, at time.Time) error {
	return r.setStatus(ctx, id, map[string]interface{}{
		"status":           string(user.StatusInactive),
		"date_deactivated": at,
		"updated_at":       at,
	})
}

func (r *UserRepository) Reactivate(ctx context.Context, id int64, at time.Time) error {
	return r.setStatus(ctx, id, map[string]interface{}{
		"status":           string(user.StatusActive),
		"date_reactivated": at,
		"updated_at":       at,
	})
}

func (r *UserRepository) setStatus(ctx context.Context, id int64, columns map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&userDatamodel.User{}).
		Where("id = ?", id).
		Updates(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return user.ErrRecordNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&userDatamodel.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return user.ErrRecordNotFound
	}
	return nil
}

func (r *UserRepository) ListRetiredPasswords(ctx context.Context, userID int64) ([]*userDatamodel.RetiredPassword, error) {
	var retired []*userDatamodel.RetiredPassword
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&retired).Error
	return retired, err
}

func (r *UserRepository) CreateRetiredPassword(ctx context.Context, rp *userDatamodel.RetiredPassword) error {
	return r.db.WithContext(ctx).Create(rp).Error
}

func (r *UserRepository) CreateAuditEntry(ctx context.Context, entry *userDatamodel.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *UserRepository) ListAuditEntries(ctx context.Context, userID int64) ([]*userDatamodel.AuditEntry, error) {
	var entries []*userDatamodel.AuditEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// WithinTransaction commits when fn returns nil and rolls back otherwise.
func (r *UserRepository) WithinTransaction(ctx context.Context, fn func(tx user.RepositoryAPI) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&UserRepository{db: tx})
	})
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return user.ErrDuplicateKey
	}
	return err
}
