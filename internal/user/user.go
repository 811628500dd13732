package user

import (
	"strings"
	"time"

	userDatamodel "github.com/frahmantamala/user-management/internal/core/datamodel/user"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// AuditField names a privileged attribute whose changes are audited.
type AuditField string

const (
	AuditFieldRole       AuditField = "Role"
	AuditFieldPermission AuditField = "Permission"
)

// User is the domain user. PasswordHash is only populated by credential
// reads and is never serialized.
type User struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	UserName        string     `json:"user_name"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	PasswordHash    string     `json:"-"`
	Role            *string    `json:"role"`
	Permission      bool       `json:"permission"`
	Status          Status     `json:"status"`
	DateDeactivated time.Time  `json:"date_deactivated"`
	DateReactivated *time.Time `json:"date_reactivated,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (u *User) IsActiveUser() bool {
	return u.Status == StatusActive
}

// RoleValue returns the role as stored in the audit log; a cleared role is "".
func (u *User) RoleValue() string {
	if u.Role == nil {
		return ""
	}
	return *u.Role
}

type AuditEntry struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Field     AuditField `json:"field"`
	Value     string     `json:"value"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NormalizeEmail is applied to every email before it is stored or looked up,
// making uniqueness case-insensitive at the index level.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeUserName(userName string) string {
	return strings.ToLower(strings.TrimSpace(userName))
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:              u.ID,
		Email:           u.Email,
		UserName:        u.UserName,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		PasswordHash:    u.PasswordHash,
		Role:            u.Role,
		Permission:      u.Permission,
		Status:          Status(u.Status),
		DateDeactivated: u.DateDeactivated,
		DateReactivated: u.DateReactivated,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func FromDataModelList(rows []*userDatamodel.User) []*User {
	users := make([]*User, 0, len(rows))
	for _, row := range rows {
		users = append(users, FromDataModel(row))
	}
	return users
}

func AuditEntryFromDataModel(e *userDatamodel.AuditEntry) *AuditEntry {
	return &AuditEntry{
		ID:        e.ID,
		UserID:    e.UserID,
		Field:     AuditField(e.Field),
		Value:     e.Value,
		UpdatedAt: e.UpdatedAt,
	}
}
