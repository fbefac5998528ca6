// Package validator validates request and configuration structs with
// go-playground/validator plus the domain's own tags.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// workspaceNameRegex: lowercase alphanumerics plus _ $ ( ) + -, starting with
// an alphanumeric, at most 250 characters.
var workspaceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_$()+\-]{0,249}$`)

// Validator wraps a go-playground validator with the domain tags registered.
type Validator struct {
	validate *validator.Validate
}

// ValidationError is one failed field, named as it appears on the wire.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is every failed field of one struct.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match shared.ErrValidation.
func (v ValidationErrors) Unwrap() error { return shared.ErrValidation }

// tag is a custom validation and the message shown when it fails.
type tag struct {
	fn      func(string) bool
	message string
}

var tags = map[string]tag{
	"workspace_name": {
		fn:      workspaceNameRegex.MatchString,
		message: "must be lowercase letters, digits and _ $ ( ) + - only",
	},
	"rule_model": {
		fn: func(s string) bool {
			_, err := rule.ParseModel(s)
			return err == nil
		},
		message: fmt.Sprintf("must be one of: %s, %s", rule.ModelVulnerability, rule.ModelVulnerabilityWeb),
	},
}

// New creates a Validator. Fields are reported by their json name, else their
// yaml name, else the Go name.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(wireName)

	for name, t := range tags {
		fn := t.fn
		// empty values are left to "required"
		_ = v.RegisterValidation(name, func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || fn(s)
		})
	}
	return &Validator{validate: v}
}

// Validate returns ValidationErrors listing every failed field.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		out = append(out, ValidationError{Field: fieldPath(e.Namespace()), Message: message(e)})
	}
	return out
}

func wireName(f reflect.StructField) string {
	for _, key := range []string{"json", "yaml"} {
		name, _, _ := strings.Cut(f.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// fieldPath drops the root struct name: "RuleFile.rules[0].model" becomes
// "rules[0].model".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func message(e validator.FieldError) string {
	if t, ok := tags[e.Tag()]; ok {
		return t.message
	}
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at least %s entries", e.Param())
		}
		return fmt.Sprintf("must be at least %s long", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s long", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}
