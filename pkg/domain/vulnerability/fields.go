package vulnerability

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Field registry errors.
var (
	ErrUnknownField  = errors.New("unknown field")
	ErrReadOnlyField = errors.New("field is read-only")
	ErrNotWeb        = errors.New("field only applies to web vulnerabilities")
)

// Field is a queryable attribute of a vulnerability.
type Field struct {
	Name string
	// Column is the storage column the field maps to.
	Column   string
	ReadOnly bool
	WebOnly  bool
	// Required fields cannot be set to an empty value.
	Required bool

	normalize func(string) (string, error)
	get       func(*Vulnerability) string
	set       func(*Vulnerability, string)
}

// Normalize converts user input to the canonical stored representation.
func (f Field) Normalize(value string) (string, error) {
	if f.normalize == nil {
		return value, nil
	}
	return f.normalize(value)
}

// NormalizeValue converts a value about to be written to the field. Unlike
// Normalize it rejects read-only fields, and empty input on required fields
// instead of mapping it to a default.
func (f Field) NormalizeValue(value string) (string, error) {
	if f.ReadOnly {
		return "", fmt.Errorf("%w: %s", ErrReadOnlyField, f.Name)
	}
	if f.Required && strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s requires a value", shared.ErrValidation, f.Name)
	}
	return f.Normalize(value)
}

func normalizeSeverity(s string) (string, error) {
	sev, err := ParseSeverity(s)
	return string(sev), err
}

func normalizeStatus(s string) (string, error) {
	st, err := ParseStatus(s)
	return string(st), err
}

func normalizeBool(s string) (string, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: invalid boolean %q", shared.ErrValidation, s)
	}
	return strconv.FormatBool(b), nil
}

func normalizeKind(s string) (string, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindGeneric:
		return string(KindGeneric), nil
	case KindWeb:
		return string(KindWeb), nil
	}
	return "", fmt.Errorf("%w: invalid type %q", shared.ErrValidation, s)
}

func normalizeMethod(s string) (string, error) {
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

func webField(get func(*WebDetails) string, set func(*WebDetails, string)) (func(*Vulnerability) string, func(*Vulnerability, string)) {
	getter := func(v *Vulnerability) string {
		if v.web == nil {
			return ""
		}
		return get(v.web)
	}
	setter := func(v *Vulnerability, s string) {
		set(v.web, s)
	}
	return getter, setter
}

var registry = func() map[string]Field {
	fields := []Field{
		{Name: "name", Column: "name", Required: true,
			get: func(v *Vulnerability) string { return v.name },
			set: func(v *Vulnerability, s string) { v.name = s }},
		{Name: "description", Column: "description",
			get: func(v *Vulnerability) string { return v.description },
			set: func(v *Vulnerability, s string) { v.description = s }},
		{Name: "resolution", Column: "resolution",
			get: func(v *Vulnerability) string { return v.resolution },
			set: func(v *Vulnerability, s string) { v.resolution = s }},
		{Name: "data", Column: "data",
			get: func(v *Vulnerability) string { return v.data },
			set: func(v *Vulnerability, s string) { v.data = s }},
		{Name: "severity", Column: "severity", Required: true, normalize: normalizeSeverity,
			get: func(v *Vulnerability) string { return string(v.severity) },
			set: func(v *Vulnerability, s string) { v.severity = Severity(s) }},
		{Name: "status", Column: "status", Required: true, normalize: normalizeStatus,
			get: func(v *Vulnerability) string { return string(v.status) },
			set: func(v *Vulnerability, s string) { v.status = Status(s) }},
		{Name: "confirmed", Column: "confirmed", Required: true, normalize: normalizeBool,
			get: func(v *Vulnerability) string { return strconv.FormatBool(v.confirmed) },
			set: func(v *Vulnerability, s string) { v.confirmed = s == "true" }},
		{Name: "type", Column: "kind", normalize: normalizeKind, ReadOnly: true,
			get: func(v *Vulnerability) string { return string(v.kind) }},
		{Name: "creator", Column: "creator", ReadOnly: true,
			get: func(v *Vulnerability) string { return v.creator }},
	}

	webFields := []struct {
		name, column string
		normalize    func(string) (string, error)
		get          func(*WebDetails) string
		set          func(*WebDetails, string)
	}{
		{"method", "method", normalizeMethod,
			func(w *WebDetails) string { return w.Method }, func(w *WebDetails, s string) { w.Method = s }},
		{"parameter_name", "parameter_name", nil,
			func(w *WebDetails) string { return w.ParameterName }, func(w *WebDetails, s string) { w.ParameterName = s }},
		{"path", "path", nil,
			func(w *WebDetails) string { return w.Path }, func(w *WebDetails, s string) { w.Path = s }},
		{"website", "website", nil,
			func(w *WebDetails) string { return w.Website }, func(w *WebDetails, s string) { w.Website = s }},
	}
	for _, wf := range webFields {
		get, set := webField(wf.get, wf.set)
		fields = append(fields, Field{
			Name: wf.name, Column: wf.column, WebOnly: true,
			normalize: wf.normalize, get: get, set: set,
		})
	}

	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// LookupField returns the registered field with the given name.
func LookupField(name string) (Field, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// FieldNames lists the registered field names in sorted order.
func FieldNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Condition is an equality predicate on a registered field. Value is canonical.
type Condition struct {
	Field Field
	Value string
}

// Matches reports whether the vulnerability satisfies every condition.
func (v *Vulnerability) Matches(conds []Condition) bool {
	for _, c := range conds {
		if c.Field.get(v) != c.Value {
			return false
		}
	}
	return true
}

// FieldValue returns the current value of a registered field.
func (v *Vulnerability) FieldValue(name string) (string, error) {
	f, err := LookupField(name)
	if err != nil {
		return "", err
	}
	return f.get(v), nil
}

// SetField sets exactly one registered field from user input.
func (v *Vulnerability) SetField(name, value string) error {
	f, err := LookupField(name)
	if err != nil {
		return err
	}
	if f.WebOnly && v.web == nil {
		return fmt.Errorf("%w: %s", ErrNotWeb, f.Name)
	}
	canonical, err := f.NormalizeValue(value)
	if err != nil {
		return err
	}
	f.set(v, canonical)
	v.refreshKey()
	v.updatedAt = time.Now().UTC()
	return nil
}
