// Package validate checks service option structs against their validate tags
// and translates failures into the errcodes taxonomy.
package validate

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/tomebooks/tome/pkg/errcodes"
)

var instance = New()

// New initializes a validator that reports fields by their json names.
func New() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Struct validates i and returns an errcodes.ValidationError describing the
// first failing field, or nil.
func Struct(i interface{}) error {
	err := instance.Struct(i)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return errors.WithStack(err)
	}
	return errcodes.ValidationError(formatFieldError(errs[0]))
}

func formatFieldError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", field)
	case "min":
		switch err.Kind() { //exhaustive:ignore
		case reflect.String:
			return fmt.Sprintf("%q must be at least %s characters", field, err.Param())
		default:
			return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
		}
	case "max":
		switch err.Kind() { //exhaustive:ignore
		case reflect.String:
			return fmt.Sprintf("%q must be at most %s characters", field, err.Param())
		default:
			return fmt.Sprintf("%q must be less than or equal to %s", field, err.Param())
		}
	case "gte":
		return fmt.Sprintf("%q must be greater than or equal to %s", field, err.Param())
	default:
		return fmt.Sprintf("%q is invalid", field)
	}
}
