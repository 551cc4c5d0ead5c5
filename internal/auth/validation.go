package auth

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/visioncare/telehealth/internal/otp"
)

var phonePattern = regexp.MustCompile(`^\+?[\d\s-]+$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("otpcode", func(fl validator.FieldLevel) bool {
		return otp.WellFormed(fl.Field().String())
	})
	return v
}

// validateInput runs struct validation and reports the first failing field.
func validateInput(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := fields[0]
	name := fe.Namespace()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return &ValidationError{Field: name, Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "otpcode":
		return "must be exactly 6 digits"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	default:
		return "is invalid"
	}
}
