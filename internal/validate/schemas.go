package validate

import (
	"regexp"
	"strings"

	"accountsvc/internal/domain"
)

var (
	// no leading or trailing whitespace; inner runs allowed
	passwordRe = regexp.MustCompile(`^[^\s]+(\s+[^\s]+)*$`)
	nameRe     = regexp.MustCompile(`^[a-zA-Z ]+$`)
)

func emailRules() []Rule { return []Rule{NotEmpty(), IsEmail()} }

func passwordRules() []Rule {
	return []Rule{
		NotEmpty(),
		IsString(),
		MinLen(5),
		MaxLen(15),
		Matches(passwordRe, "must not start or end with whitespace"),
	}
}

func nameRules() []Rule {
	return []Rule{
		IsString(),
		MinLen(3),
		MaxLen(30),
		Matches(nameRe, "must contain only letters and spaces"),
	}
}

var (
	CreateUser = Schema{
		{Name: "email", Rules: emailRules()},
		{Name: "password", Rules: passwordRules()},
		{Name: "firstName", Rules: nameRules()},
		{Name: "lastName", Rules: nameRules()},
	}

	Email = Schema{
		{Name: "email", Rules: emailRules()},
	}

	Password = Schema{
		{Name: "password", Rules: passwordRules()},
	}

	ResetPassword = Schema{
		{Name: "currentPassword", Rules: passwordRules()},
		{Name: "newPassword", Rules: passwordRules()},
	}

	// Credentials checks presence only; stored passwords predate any rule change.
	Credentials = Schema{
		{Name: "email", Rules: emailRules()},
		{Name: "password", Rules: []Rule{NotEmpty(), IsString()}},
	}

	OTPCheck = Schema{
		{Name: "email", Rules: emailRules()},
		{Name: "otp", Rules: []Rule{NotEmpty(), IsPositiveInt()}},
	}

	MagicPassword = Schema{
		{Name: "email", Rules: emailRules()},
		{Name: "password", Rules: []Rule{NotEmpty(), IsString()}},
		{Name: "enabled", Rules: []Rule{IsBool()}},
	}
)

// NormalizeEmail lower-cases an already trimmed address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func Registration(r domain.Registration) (domain.Registration, error) {
	v, err := CreateUser.Normalize(map[string]any{
		"email":     r.Email,
		"password":  r.Password,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
	})
	if err != nil {
		return domain.Registration{}, err
	}
	return domain.Registration{
		Email:     NormalizeEmail(v.String("email")),
		Password:  v.String("password"),
		FirstName: v.String("firstName"),
		LastName:  v.String("lastName"),
	}, nil
}

func EmailAddress(email string) (string, error) {
	v, err := Email.Normalize(map[string]any{"email": email})
	if err != nil {
		return "", err
	}
	return NormalizeEmail(v.String("email")), nil
}

func NewPassword(password string) (string, error) {
	v, err := Password.Normalize(map[string]any{"password": password})
	if err != nil {
		return "", err
	}
	return v.String("password"), nil
}

func PasswordChange(c domain.PasswordChange) (domain.PasswordChange, error) {
	v, err := ResetPassword.Normalize(map[string]any{
		"currentPassword": c.CurrentPassword,
		"newPassword":     c.NewPassword,
	})
	if err != nil {
		return domain.PasswordChange{}, err
	}
	return domain.PasswordChange{
		CurrentPassword: v.String("currentPassword"),
		NewPassword:     v.String("newPassword"),
	}, nil
}

func Login(email, password string) (string, string, error) {
	v, err := Credentials.Normalize(map[string]any{"email": email, "password": password})
	if err != nil {
		return "", "", err
	}
	return NormalizeEmail(v.String("email")), v.String("password"), nil
}

func OTP(email string, code int) (string, int, error) {
	v, err := OTPCheck.Normalize(map[string]any{"email": email, "otp": code})
	if err != nil {
		return "", 0, err
	}
	return NormalizeEmail(v.String("email")), v.Int("otp"), nil
}
