// Package validation wraps go-playground/validator with JSON field names and
// short, caller facing messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)
	localePattern   = regexp.MustCompile(`^[a-z]{2,3}-[A-Z]{2}$`)
)

// New returns a validator that reports JSON field names and knows the
// "currency" and "locale" tags.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	mustRegisterPattern(v, "currency", currencyPattern)
	mustRegisterPattern(v, "locale", localePattern)

	return v
}

func mustRegisterPattern(v *validator.Validate, tag string, re *regexp.Regexp) {
	if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return re.MatchString(value)
	}); err != nil {
		panic(err)
	}
}

// Normalize turns the first validation failure into "<json path> <message>".
// Other errors are returned unchanged.
func Normalize(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}
	first := validationErrs[0]
	return fmt.Errorf("%s %s", jsonPath(first), message(first))
}

func jsonPath(fe validator.FieldError) string {
	path := fe.Namespace()
	if idx := strings.Index(path, "."); idx >= 0 {
		path = path[idx+1:]
	}
	if path == "" {
		return fe.Field()
	}
	return path
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("cannot exceed %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url", "http_url":
		return "must be an absolute URL"
	case "currency":
		return "must be a lowercase 3-letter ISO-4217 code"
	case "locale":
		return "must be in language-REGION form"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
