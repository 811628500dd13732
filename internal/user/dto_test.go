package user_test

import (
	"context"
	"strings"

	"github.com/frahmantamala/user-management/internal"
	"github.com/frahmantamala/user-management/internal/user"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

func validationFields(err error) []string {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue())
	details, ok := appErr.Details.(internal.ValidationErrors)
	Expect(ok).To(BeTrue())

	fields := make([]string, len(details.Errors))
	for i, e := range details.Errors {
		fields[i] = e.Field
	}
	return fields
}

var _ = Describe("DTO validation", func() {
	Describe("CreateUserDTO", func() {
		It("should accept a complete payload", func() {
			Expect(newCreateDTO("ann").Validate()).To(Succeed())
		})

		It("should report every missing field at once", func() {
			err := user.CreateUserDTO{}.Validate()
			Expect(validationFields(err)).To(Equal([]string{
				"email", "user_name", "first_name", "last_name", "password", "confirm_password",
			}))
		})

		It("should reject a short password and a malformed email", func() {
			dto := newCreateDTO("ann")
			dto.Email = "not-an-email"
			dto.Password = "12345"
			dto.ConfirmPassword = "12345"
			Expect(validationFields(dto.Validate())).To(Equal([]string{"email", "password"}))
		})

		It("should reject passwords bcrypt would truncate", func() {
			dto := newCreateDTO("ann")
			dto.Password = strings.Repeat("x", user.MaxPasswordLength+1)
			dto.ConfirmPassword = dto.Password
			Expect(validationFields(dto.Validate())).To(Equal([]string{"password"}))
		})
	})

	Describe("UpdateUserDTO", func() {
		It("should accept an empty update", func() {
			Expect(user.UpdateUserDTO{}.Validate()).To(Succeed())
		})

		It("should allow an empty role to clear it", func() {
			Expect(user.UpdateUserDTO{Role: strPtr("")}.Validate()).To(Succeed())
		})

		It("should reject a blank supplied name", func() {
			Expect(validationFields(user.UpdateUserDTO{FirstName: strPtr("  ")}.Validate())).To(Equal([]string{"first_name"}))
		})

		It("should drop empty names and email before validating", func() {
			dto := user.UpdateUserDTO{Email: strPtr(""), UserName: strPtr(""), FirstName: strPtr(""), LastName: strPtr("Lee")}.WithoutEmptyFields()
			Expect(dto.Email).To(BeNil())
			Expect(dto.UserName).To(BeNil())
			Expect(dto.FirstName).To(BeNil())
			Expect(*dto.LastName).To(Equal("Lee"))
			Expect(dto.Validate()).To(Succeed())
		})

		It("should require confirmation alongside a password", func() {
			err := user.UpdateUserDTO{Password: strPtr("new-secret")}.Validate()
			Expect(validationFields(err)).To(Equal([]string{"confirm_password"}))
		})

		It("should strip privileged fields for self-service", func() {
			dto := user.UpdateUserDTO{FirstName: strPtr("Ann"), Role: strPtr("admin"), Permission: boolPtr(true)}.WithoutPrivileges()
			Expect(dto.Role).To(BeNil())
			Expect(dto.Permission).To(BeNil())
			Expect(*dto.FirstName).To(Equal("Ann"))
		})
	})

	Describe("ChangePasswordDTO", func() {
		It("should reject a mismatched confirmation", func() {
			err := user.ChangePasswordDTO{Password: "secret-1", ConfirmPassword: "secret-2"}.Validate()
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details := appErr.Details.(internal.ValidationErrors)
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodePasswordMismatch)))
		})
	})
})

var _ = Describe("BcryptHasher", func() {
	var (
		ctx    context.Context
		hasher *user.BcryptHasher
	)

	BeforeEach(func() {
		ctx = context.Background()
		hasher = user.NewBcryptHasher(bcrypt.MinCost)
	})

	It("should salt every hash yet verify both", func() {
		first, err := hasher.Hash(ctx, "secret")
		Expect(err).NotTo(HaveOccurred())
		second, err := hasher.Hash(ctx, "secret")
		Expect(err).NotTo(HaveOccurred())
		Expect(first).NotTo(Equal(second))

		for _, digest := range []string{first, second} {
			ok, err := hasher.Verify(ctx, "secret", digest)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
	})

	It("should report a mismatch without error", func() {
		digest, err := hasher.Hash(ctx, "secret")
		Expect(err).NotTo(HaveOccurred())
		ok, err := hasher.Verify(ctx, "other", digest)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should fail on a malformed digest", func() {
		_, err := hasher.Verify(ctx, "secret", "not-a-bcrypt-digest")
		Expect(err).To(HaveOccurred())
	})

	It("should fall back to the default cost when out of range", func() {
		digest, err := user.NewBcryptHasher(99).Hash(ctx, "secret")
		Expect(err).NotTo(HaveOccurred())
		cost, err := bcrypt.Cost([]byte(digest))
		Expect(err).NotTo(HaveOccurred())
		Expect(cost).To(Equal(bcrypt.DefaultCost))
	})
})
