package form

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailShape = regexp.MustCompile(`\S+@\S+\.\S+`)

// Values поля формы регистрации
type Values struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,emailshape"`
	Phone       string `json:"phone" validate:"required,min=7"`
	Address     string `json:"address" validate:"required"`
	Occupation  string `json:"occupation" validate:"required"`
	Gender      string `json:"gender" validate:"required"`
	Nationality string `json:"nationality" validate:"required"`
	Department  string `json:"department"`
	// nil пока на вопрос не ответили
	FirstTimer *bool `json:"firstTimer" validate:"required"`
}

// ValidationError ошибки по полям формы, ключ - имя поля в JSON
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid form: " + strings.Join(parts, "; ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// ошибка регистрации возможна только при пустом теге
	_ = v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool {
		return emailShape.MatchString(fl.Field().String())
	})
	return v
}

// validateValues проверяет обязательные поля, форму email и длину телефона.
// Возвращает *ValidationError или nil.
func validateValues(v *validator.Validate, values Values) error {
	trimmed := values
	trimmed.Name = strings.TrimSpace(values.Name)
	trimmed.Email = strings.TrimSpace(values.Email)
	trimmed.Phone = strings.TrimSpace(values.Phone)
	trimmed.Address = strings.TrimSpace(values.Address)
	trimmed.Occupation = strings.TrimSpace(values.Occupation)
	trimmed.Gender = strings.TrimSpace(values.Gender)
	trimmed.Nationality = strings.TrimSpace(values.Nationality)

	err := v.Struct(trimmed)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "firstTimer" {
			return "please answer whether this is your first time"
		}
		return fe.Field() + " is required"
	case "emailshape":
		return "enter a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
