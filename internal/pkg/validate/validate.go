package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var reOTPCode = regexp.MustCompile(`^[0-9]{4,6}$`)

// v is the package-level singleton validator. Custom tags are registered in
// init() before the first call to Struct.
var v = validator.New()

func init() {
	// otpcode: 4-6 ASCII digits, no sign, no decimal point.
	_ = v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		return reOTPCode.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

// Struct validates the given struct using its validate tags.
// Returns a human-readable error string or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		return humanize(err)
	}
	return nil
}

// Var validates a single value against a tag expression, e.g. "required,otpcode".
func Var(field interface{}, tag string) error {
	if err := v.Var(field, tag); err != nil {
		return humanize(err)
	}
	return nil
}

func humanize(err error) error {
	ve, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var msgs []string
	for _, fe := range ve {
		if fe.Field() == "" {
			msgs = append(msgs, fmt.Sprintf("value failed '%s'", fe.Tag()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
