package agency

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// phonePattern is deliberately permissive: digits, "+", spaces and common punctuation.
var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().\-/]{5,19}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// ValidateCredentials checks that every field required by the credentials type is present.
func ValidateCredentials(agencyName string, creds Credentials) error {
	fields := structFieldErrors(validate.Struct(creds))
	if len(fields) == 0 {
		return nil
	}
	return NewError(agencyName, KindValidation, "INVALID_CREDENTIALS", "invalid credentials").
		WithFields(fields)
}

// ValidateOrder checks an order before it is sent to an agency. Every violated
// field is reported, not only the first. When regions is non-empty the order's
// city must be one of them.
func ValidateOrder(agencyName string, regions []string, order *Order) error {
	if order == nil {
		return NewError(agencyName, KindValidation, "INVALID_ORDER", "order is required")
	}

	fields := structFieldErrors(validate.Struct(order))
	if !order.Price.IsPositive() {
		fields = append(fields, FieldError{Field: "price", Message: "must be greater than 0"})
	}
	if len(regions) > 0 {
		// a blank city is already reported by notblank
		if city := strings.TrimSpace(order.City); city != "" && !regionSupported(regions, city) {
			fields = append(fields, FieldError{
				Field:   "city",
				Message: fmt.Sprintf("region %q not supported by %s", city, agencyName),
			})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return NewError(agencyName, KindValidation, "INVALID_ORDER", "invalid order").
		WithFields(fields)
}

// ValidateRequest runs credential and order validation together so that the
// caller sees every problem at once.
func ValidateRequest(agencyName string, regions []string, order *Order, creds Credentials) error {
	var fields []FieldError
	for _, err := range []error{
		ValidateCredentials(agencyName, creds),
		ValidateOrder(agencyName, regions, order),
	} {
		var agencyErr *Error
		if errors.As(err, &agencyErr) {
			if len(agencyErr.Fields) == 0 {
				return agencyErr
			}
			fields = append(fields, agencyErr.Fields...)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return NewError(agencyName, KindValidation, "VALIDATION_FAILED", "validation failed").
		WithFields(fields)
}

func regionSupported(regions []string, city string) bool {
	for _, r := range regions {
		if strings.EqualFold(strings.TrimSpace(r), city) {
			return true
		}
	}
	return false
}

func structFieldErrors(err error) []FieldError {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: describeTag(fe)})
	}
	return fields
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless", "notblank":
		return "is required"
	case "phone":
		return "is not a valid phone number"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
