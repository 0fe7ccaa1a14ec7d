package httpapi

import (
	"errors"
	"net/http"
	"slices"

	"accountsvc/internal/domain"
	"accountsvc/internal/validate"
)

var changePasswordSchema = slices.Concat(validate.Email, validate.ResetPassword)

// input decodes the body and runs it through schema. It writes the error
// response itself and reports false when the handler should stop.
func (a *api) input(w http.ResponseWriter, r *http.Request, schema validate.Schema) (validate.Values, bool) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeDecodeError(w, err)
		return nil, false
	}
	v, err := schema.Normalize(body)
	if err != nil {
		WriteDomainError(w, err)
		return nil, false
	}
	return v, true
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !isExpected(err) {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	WriteDomainError(w, err)
}

func isExpected(err error) bool {
	for _, target := range []error{
		domain.ErrValidation,
		domain.ErrEmailTaken,
		domain.ErrNotFound,
		domain.ErrTokenInvalid,
		domain.ErrTokenExpired,
		domain.ErrInvalidCredentials,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.CreateUser)
	if !ok {
		return
	}

	u, err := a.accounts.Register(r.Context(), domain.Registration{
		Email:     v.String("email"),
		Password:  v.String("password"),
		FirstName: v.String("firstName"),
		LastName:  v.String("lastName"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, u)
}

func (a *api) handleVerification(w http.ResponseWriter, r *http.Request) {
	u, err := a.accounts.AccountVerification(r.Context(), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleGenerateLink(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.Email)
	if !ok {
		return
	}

	ack, err := a.accounts.GenerateToken(r.Context(), v.String("email"), bearerToken(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ack)
}

func (a *api) handleGenerateResetLink(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.Email)
	if !ok {
		return
	}

	ack, err := a.accounts.GeneratePasswordResetToken(r.Context(), v.String("email"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ack)
}

func (a *api) handleForgetPassword(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.Password)
	if !ok {
		return
	}

	u, err := a.accounts.ForgetPassword(r.Context(), bearerToken(r), v.String("password"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.OTPCheck)
	if !ok {
		return
	}

	u, err := a.accounts.VerifyOTP(r.Context(), v.String("email"), v.Int("otp"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.Credentials)
	if !ok {
		return
	}

	u, err := a.accounts.Authenticate(r.Context(), v.String("email"), v.String("password"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, changePasswordSchema)
	if !ok {
		return
	}

	u, err := a.accounts.ChangePassword(r.Context(), v.String("email"), domain.PasswordChange{
		CurrentPassword: v.String("currentPassword"),
		NewPassword:     v.String("newPassword"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleMagicPassword(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.MagicPassword)
	if !ok {
		return
	}

	u, err := a.accounts.SetMagicPassword(r.Context(), v.String("email"), v.String("password"), v.Bool("enabled"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

func (a *api) handleDelete(w http.ResponseWriter, r *http.Request) {
	v, ok := a.input(w, r, validate.Credentials)
	if !ok {
		return
	}

	if err := a.accounts.DeleteUser(r.Context(), v.String("email"), v.String("password")); err != nil {
		a.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, domain.Ack{Message: "account deleted"})
}
