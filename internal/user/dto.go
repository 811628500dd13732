package user

import (
	"github.com/frahmantamala/user-management/internal/core/common/validation"
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 72 // bcrypt ignores input past 72 bytes
	MaxNameLength     = 100
)

// CreateUserDTO is the registration payload. Role and permission are not
// accepted here; they start empty and change only through UpdateUserDTO.
type CreateUserDTO struct {
	Email           string `json:"email"`
	UserName        string `json:"user_name"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (d CreateUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().Email()
	v.Field("user_name", d.UserName).Required().MaxLength(MaxNameLength)
	v.Field("first_name", d.FirstName).Required().MaxLength(MaxNameLength)
	v.Field("last_name", d.LastName).Required().MaxLength(MaxNameLength)
	v.Field("password", d.Password).Required().MinLength(MinPasswordLength).MaxLength(MaxPasswordLength)
	v.Field("confirm_password", d.ConfirmPassword).Required().EqualTo("password", d.Password)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// UpdateUserDTO lists every field a generic update may touch. Nil means
// "leave unchanged". Role set to "" clears the role.
type UpdateUserDTO struct {
	Email           *string `json:"email,omitempty"`
	UserName        *string `json:"user_name,omitempty"`
	FirstName       *string `json:"first_name,omitempty"`
	LastName        *string `json:"last_name,omitempty"`
	Role            *string `json:"role,omitempty"`
	Permission      *bool   `json:"permission,omitempty"`
	Password        *string `json:"password,omitempty"`
	ConfirmPassword *string `json:"confirm_password,omitempty"`
}

func (d UpdateUserDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("email", d.Email).NotBlank().Email()
	v.Field("user_name", d.UserName).NotBlank().MaxLength(MaxNameLength)
	v.Field("first_name", d.FirstName).NotBlank().MaxLength(MaxNameLength)
	v.Field("last_name", d.LastName).NotBlank().MaxLength(MaxNameLength)
	v.Field("role", d.Role).MaxLength(MaxNameLength)
	v.Field("password", d.Password).NotBlank().MinLength(MinPasswordLength).MaxLength(MaxPasswordLength)
	if d.Password != nil || d.ConfirmPassword != nil {
		v.Field("confirm_password", d.ConfirmPassword).Required().EqualTo("password", d.Password)
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// WithoutEmptyFields treats an empty email, user name, first or last name as
// not supplied, so clients may send blank form fields they did not edit.
// Whitespace-only values are kept and fail validation.
func (d UpdateUserDTO) WithoutEmptyFields() UpdateUserDTO {
	for _, field := range []**string{&d.Email, &d.UserName, &d.FirstName, &d.LastName} {
		if *field != nil && **field == "" {
			*field = nil
		}
	}
	return d
}

// WithoutPrivileges drops the audited fields; used for self-service profile
// updates.
func (d UpdateUserDTO) WithoutPrivileges() UpdateUserDTO {
	d.Role = nil
	d.Permission = nil
	return d
}

type ChangePasswordDTO struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (d ChangePasswordDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("password", d.Password).Required().MinLength(MinPasswordLength).MaxLength(MaxPasswordLength)
	v.Field("confirm_password", d.ConfirmPassword).Required().EqualTo("password", d.Password)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type AuthenticateLookupDTO struct {
	UserName string `json:"user_name"`
}

func (d AuthenticateLookupDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("user_name", d.UserName).Required()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// SearchFilter narrows Search. Empty fields are ignored; both set combine
// with AND. Matching is case-insensitive substring.
type SearchFilter struct {
	Name  string
	Email string
}

type UsersResponse struct {
	Users []*User `json:"users"`
}

type AuditTrailResponse struct {
	Entries []*AuditEntry `json:"entries"`
}

type AuthenticateLookupResponse struct {
	ID       int64  `json:"id"`
	UserName string `json:"user_name"`
	Status   Status `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
