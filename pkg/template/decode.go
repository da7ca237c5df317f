package template

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var devicePattern = regexp.MustCompile(`^/dev/vd[b-z]$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(yamlFieldName)
	_ = v.RegisterValidation("device", func(fl validator.FieldLevel) bool {
		return devicePattern.MatchString(fl.Field().String())
	})
	return v
}

// DecodeProperties copies resolved properties into out, a pointer to a struct
// with yaml and validate tags, and validates the result.
func DecodeProperties(props map[string]any, out any) error {
	if props == nil {
		props = map[string]any{}
	}
	if err := convert(props, out); err != nil {
		return fmt.Errorf("invalid properties: %w", err)
	}
	return ValidateStruct(out)
}

// ValidateStruct validates a struct with validate tags and reports failures
// by their yaml field names.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid properties: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("property %s is required", fe.Field())
	case "device":
		return fmt.Sprintf("property %s: %q does not match %s", fe.Field(), fe.Value(), devicePattern.String())
	case "oneof":
		return fmt.Sprintf("property %s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("property %s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}

func yamlFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
