// Package validate wires go-playground/validator into echo.  Struct tags
// are checked after binding and the first failing field is reported.
package validate

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("validation failed")

// FieldError names the first field that failed and why.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Message + ": " + e.Field }

func (e *FieldError) Unwrap() error { return ErrInvalid }

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the custom "slug" and "currency" tags.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) == 3 && strings.ToLower(s) == s
	})
	return &Validator{v: v}
}

// Validate checks i and flattens the result into a *FieldError.
func (cv *Validator) Validate(i any) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &FieldError{Field: fieldPath(fe), Message: message(fe)}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "campo obligatorio"
	case "email":
		return "email no válido"
	case "min", "gte", "gt":
		return "valor por debajo del mínimo (" + fe.Param() + ")"
	case "max", "lte", "lt":
		return "valor por encima del máximo (" + fe.Param() + ")"
	case "oneof":
		return "valor no permitido, use uno de: " + fe.Param()
	case "slug":
		return "slug no válido (minúsculas, números y guiones)"
	case "currency":
		return "moneda no válida (código ISO en minúsculas)"
	case "url":
		return "URL no válida"
	}
	return "valor no válido"
}
