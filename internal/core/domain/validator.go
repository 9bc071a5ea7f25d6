package domain

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate  *validator.Validate
	trans     ut.Translator
	validOnce sync.Once
)

// Validator returns the shared validator engine. Field names in messages use
// the yaml tag so they match what operators write in the config file.
func Validator() *validator.Validate {
	validOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		english := en.New()
		uni := ut.New(english, english)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(validate, trans)
	})
	return validate
}

// ValidateStruct runs struct validation and returns nil or the raw
// validator error.
func ValidateStruct(v interface{}) error {
	return Validator().Struct(v)
}

// ParseValidationError converts raw validator errors into field → message.
// Example: "required" -> "base_url is a required field"
func ParseValidationError(err error) map[string]string {
	errMap := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		Validator()
		for _, e := range validationErrors {
			errMap[e.Field()] = e.Translate(trans)
		}
		return errMap
	}

	errMap["body"] = err.Error()
	return errMap
}

// ValidationSummary flattens ParseValidationError into one stable line.
func ValidationSummary(err error) string {
	m := ParseValidationError(err)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, m[k])
	}
	return strings.Join(parts, "; ")
}
