package user_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/frahmantamala/user-management/internal"
	"github.com/frahmantamala/user-management/internal/lock"
	"github.com/frahmantamala/user-management/internal/transport"
	"github.com/frahmantamala/user-management/internal/user"
	userPostgres "github.com/frahmantamala/user-management/internal/user/postgres"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

type errorEnvelope struct {
	Error struct {
		Type    string                    `json:"type"`
		Code    string                    `json:"code"`
		Message string                    `json:"message"`
		Details internal.ValidationErrors `json:"details"`
	} `json:"error"`
}

var _ = Describe("User Handler Integration", func() {
	var (
		handler *user.Handler
		router  *chi.Mux
		caller  *user.User
	)

	BeforeEach(func() {
		slogger := newTestLogger()
		repo := userPostgres.NewUserRepository(newTestDB())
		service := user.NewService(repo, user.NewBcryptHasher(bcrypt.MinCost), lock.NewLocal(), slogger)
		handler = user.NewHandler(&transport.BaseHandler{Logger: slogger}, service)

		var err error
		caller, err = service.Create(context.Background(), newCreateDTO("caller"))
		Expect(err).NotTo(HaveOccurred())

		router = chi.NewRouter()
		router.Post("/users", handler.CreateUser)
		router.Post("/auth/lookup", handler.AuthenticateLookup)
		router.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					next.ServeHTTP(w, req.WithContext(internal.ContextWithCallerID(req.Context(), caller.ID)))
				})
			})
			r.Get("/users", handler.SearchUsers)
			r.Get("/users/me", handler.GetCurrentUser)
			r.Put("/users/me", handler.UpdateCurrentUser)
			r.Get("/users/{id}", handler.GetUser)
			r.Put("/users/{id}", handler.UpdateUser)
			r.Delete("/users/{id}", handler.DeleteUser)
			r.Post("/users/{id}/password", handler.ChangePassword)
			r.Post("/users/{id}/deactivate", handler.DeactivateUser)
			r.Post("/users/{id}/reactivate", handler.ReactivateUser)
			r.Get("/users/{id}/audit", handler.GetAuditTrail)
		})
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decodeError := func(w *httptest.ResponseRecorder) errorEnvelope {
		var env errorEnvelope
		Expect(json.NewDecoder(w.Body).Decode(&env)).To(Succeed())
		return env
	}

	userPath := func(id int64, suffix string) string {
		return "/users/" + strconv.FormatInt(id, 10) + suffix
	}

	It("should create a user and never expose the hash", func() {
		w := do(http.MethodPost, "/users", newCreateDTO("ann"))
		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))

		var raw map[string]interface{}
		Expect(json.NewDecoder(w.Body).Decode(&raw)).To(Succeed())
		Expect(raw).To(HaveKeyWithValue("user_name", "ann"))
		Expect(raw).To(HaveKeyWithValue("status", "active"))
		Expect(raw).NotTo(HaveKey("password_hash"))
		Expect(raw).NotTo(HaveKey("PasswordHash"))
	})

	It("should map a duplicate email to 409", func() {
		dto := newCreateDTO("other")
		dto.Email = caller.Email
		w := do(http.MethodPost, "/users", dto)
		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeDuplicateEmail)))
	})

	It("should return per-field validation details", func() {
		w := do(http.MethodPost, "/users", map[string]string{"email": "ann@mail.com"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))

		env := decodeError(w)
		Expect(env.Error.Code).To(Equal(string(internal.ErrCodeValidationFailed)))
		Expect(env.Error.Details.Errors).NotTo(BeEmpty())
		Expect(env.Error.Details.Errors[0].Field).To(Equal("user_name"))
	})

	It("should reject fields outside the allow-list", func() {
		w := do(http.MethodPut, userPath(caller.ID, ""), map[string]interface{}{"status": "inactive"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("should reject a non-numeric id", func() {
		w := do(http.MethodGet, "/users/abc", nil)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeValidationFailed)))
	})

	It("should return 404 for an unknown user", func() {
		w := do(http.MethodGet, userPath(999, ""), nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeUserNotFound)))
	})

	It("should serve the caller's profile", func() {
		w := do(http.MethodGet, "/users/me", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var me user.User
		Expect(json.NewDecoder(w.Body).Decode(&me)).To(Succeed())
		Expect(me.ID).To(Equal(caller.ID))
	})

	It("should map a reused password to 422", func() {
		w := do(http.MethodPost, userPath(caller.ID, "/password"), user.ChangePasswordDTO{
			Password:        "secret-caller",
			ConfirmPassword: "secret-caller",
		})
		Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodePasswordReused)))

		w = do(http.MethodPost, userPath(caller.ID, "/password"), user.ChangePasswordDTO{
			Password:        "fresh-secret",
			ConfirmPassword: "fresh-secret",
		})
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should expose role changes in the audit trail", func() {
		w := do(http.MethodPut, userPath(caller.ID, ""), map[string]interface{}{"role": "admin", "permission": true})
		Expect(w.Code).To(Equal(http.StatusOK))

		w = do(http.MethodGet, userPath(caller.ID, "/audit"), nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var trail user.AuditTrailResponse
		Expect(json.NewDecoder(w.Body).Decode(&trail)).To(Succeed())
		Expect(trail.Entries).To(HaveLen(2))
		Expect(trail.Entries[0].Field).To(Equal(user.AuditFieldRole))
		Expect(trail.Entries[1].Field).To(Equal(user.AuditFieldPermission))
	})

	It("should deactivate and then reject lookups with 403", func() {
		w := do(http.MethodPost, userPath(caller.ID, "/deactivate"), nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		w = do(http.MethodPost, "/auth/lookup", user.AuthenticateLookupDTO{UserName: caller.UserName})
		Expect(w.Code).To(Equal(http.StatusForbidden))
		Expect(decodeError(w).Error.Code).To(Equal(string(internal.ErrCodeUserInactive)))

		w = do(http.MethodPost, userPath(caller.ID, "/reactivate"), nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		w = do(http.MethodPost, "/auth/lookup", user.AuthenticateLookupDTO{UserName: caller.UserName})
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp user.AuthenticateLookupResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.ID).To(Equal(caller.ID))
		Expect(resp.Status).To(Equal(user.StatusActive))
	})

	It("should search by query parameters", func() {
		Expect(do(http.MethodPost, "/users", newCreateDTO("joanne")).Code).To(Equal(http.StatusCreated))

		w := do(http.MethodGet, "/users?name=JOANNE", nil)
		Expect(w.Code).To(Equal(http.StatusOK))

		var resp user.UsersResponse
		Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
		Expect(resp.Users).To(HaveLen(1))
		Expect(resp.Users[0].UserName).To(Equal("joanne"))
	})

	It("should delete a user", func() {
		w := do(http.MethodDelete, userPath(caller.ID, ""), nil)
		Expect(w.Code).To(Equal(http.StatusNoContent))

		w = do(http.MethodDelete, userPath(caller.ID, ""), nil)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
