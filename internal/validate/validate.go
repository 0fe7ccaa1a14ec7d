// Package validate normalizes and checks request input against declarative
// per-field constraint tables.
package validate

import (
	"math"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"accountsvc/internal/domain"
)

const msgNotNull = "must not be null"

// Rule is one predicate with the message reported when it fails. Check
// receives nil for an absent field.
type Rule struct {
	Message string
	Check   func(v any) bool
}

type Field struct {
	Name  string
	Rules []Rule
}

type Schema []Field

// Values holds normalized input keyed by field name.
type Values map[string]any

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Int(name string) int {
	switch n := v[name].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Normalize runs, in order: the null pass, the trim pass, then each field's
// rules. Only the first failing rule per field is reported; every failing
// field is aggregated into a single *domain.ValidationError.
func (s Schema) Normalize(raw map[string]any) (Values, error) {
	out := make(Values, len(s))
	fields := make(map[string]string)

	for _, f := range s {
		v, present := raw[f.Name]
		if present && v == nil {
			fields[f.Name] = msgNotNull
			continue
		}
		if str, ok := v.(string); ok {
			v = strings.TrimSpace(str)
		}
		if present {
			out[f.Name] = v
		}
	}

	for _, f := range s {
		if _, failed := fields[f.Name]; failed {
			continue
		}
		v := out[f.Name]
		for _, r := range f.Rules {
			if !r.Check(v) {
				fields[f.Name] = r.Message
				break
			}
		}
	}

	if len(fields) > 0 {
		return nil, domain.NewValidationError(fields)
	}
	return out, nil
}

func NotEmpty() Rule {
	return Rule{Message: "should not be empty", Check: func(v any) bool {
		switch x := v.(type) {
		case nil:
			return false
		case string:
			return x != ""
		}
		return true
	}}
}

func IsString() Rule {
	return Rule{Message: "must be a string", Check: func(v any) bool {
		_, ok := v.(string)
		return ok
	}}
}

func IsBool() Rule {
	return Rule{Message: "must be a boolean", Check: func(v any) bool {
		_, ok := v.(bool)
		return ok
	}}
}

// IsPositiveInt accepts ints and integral JSON numbers.
func IsPositiveInt() Rule {
	return Rule{Message: "must be a positive integer", Check: func(v any) bool {
		switch n := v.(type) {
		case int:
			return n > 0
		case float64:
			return n > 0 && n == math.Trunc(n) && n <= math.MaxInt32
		}
		return false
	}}
}

func IsEmail() Rule {
	return Rule{Message: "must be an email", Check: func(v any) bool {
		s, ok := v.(string)
		return ok && validEmail(s)
	}}
}

func MinLen(n int) Rule {
	return Rule{Message: "must be longer than or equal to " + strconv.Itoa(n) + " characters", Check: func(v any) bool {
		s, ok := v.(string)
		return ok && utf8.RuneCountInString(s) >= n
	}}
}

func MaxLen(n int) Rule {
	return Rule{Message: "must be shorter than or equal to " + strconv.Itoa(n) + " characters", Check: func(v any) bool {
		s, ok := v.(string)
		return ok && utf8.RuneCountInString(s) <= n
	}}
}

func Matches(re *regexp.Regexp, message string) Rule {
	return Rule{Message: message, Check: func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}}
}

func validEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	dom := s[at+1:]
	dot := strings.LastIndexByte(dom, '.')
	return dot > 0 && dot < len(dom)-1
}
