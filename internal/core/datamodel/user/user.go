package user

import "time"

type User struct {
	ID              int64      `gorm:"primaryKey"`
	Email           string     `gorm:"column:email;uniqueIndex;not null"`
	UserName        string     `gorm:"column:user_name;uniqueIndex;not null"`
	FirstName       string     `gorm:"column:first_name;not null"`
	LastName        string     `gorm:"column:last_name;not null"`
	PasswordHash    string     `gorm:"column:password_hash;not null"`
	Role            *string    `gorm:"column:role"`
	Permission      bool       `gorm:"column:permission;not null;default:false"`
	Status          string     `gorm:"column:status;not null;default:active"`
	DateDeactivated time.Time  `gorm:"column:date_deactivated;not null"`
	DateReactivated *time.Time `gorm:"column:date_reactivated"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// RetiredPassword is one entry of the append-only password ledger.
type RetiredPassword struct {
	ID          int64     `gorm:"primaryKey"`
	UserID      int64     `gorm:"column:user_id;index;not null"`
	RetiredHash string    `gorm:"column:retired_hash;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (RetiredPassword) TableName() string {
	return "retired_passwords"
}

type AuditEntry struct {
	ID        int64     `gorm:"primaryKey"`
	UserID    int64     `gorm:"column:user_id;index;not null"`
	Field     string    `gorm:"column:field;not null"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (AuditEntry) TableName() string {
	return "user_audit_entries"
}
