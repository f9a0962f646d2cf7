package shared

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldErrors maps form fields to messages. It satisfies errors.Is(err, ErrValidation).
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + f[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap ties FieldErrors to ErrValidation.
func (f FieldErrors) Unwrap() error { return ErrValidation }

// FieldErrorsFrom converts validator output into FieldErrors. It returns nil
// when err carries no field errors.
func FieldErrorsFrom(err error) FieldErrors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		var fe FieldErrors
		if errors.As(err, &fe) {
			return fe
		}
		return nil
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

// Validate runs struct tag validation and returns FieldErrors on failure.
func Validate(v *validator.Validate, s any) error {
	if err := v.Struct(s); err != nil {
		if fe := FieldErrorsFrom(err); fe != nil {
			return fe
		}
		return err
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Must be at least " + fe.Param() + " characters."
	case "max":
		return "Must be at most " + fe.Param() + " characters."
	case "alphanum":
		return "Only letters and digits are allowed."
	case "eqfield":
		return "The passwords do not match."
	case "oneof":
		return "Choose one of: " + strings.ReplaceAll(fe.Param(), " ", ", ") + "."
	case "gt", "gte":
		return "Select a value."
	default:
		return "Invalid value."
	}
}

// Option is an entry of a select input.
type Option struct {
	ID    int64
	Label string
}

// Directory supplies select options shared by several forms.
type Directory interface {
	Assignees(ctx context.Context) ([]Option, error)
	Equipment(ctx context.Context) ([]Option, error)
}
