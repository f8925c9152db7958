// Package schema describes table fields and validates documents against them.
//
// A Schema is an ordered list of Fields. Each field has a Kind that fixes the
// accepted value shape and an optional validator rule string (the same tag
// syntax as github.com/go-playground/validator) evaluated on the value.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jacentio/canopy/store"
)

// Kind is the value shape of a field.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBool    Kind = "bool"
	KindID      Kind = "id"      // reference to a document in another table
	KindStrings Kind = "strings" // list of strings
	KindFile    Kind = "file"    // storage id of a single attachment
	KindFiles   Kind = "files"   // storage ids of several attachments
	KindAny     Kind = "any"
)

var kinds = map[Kind]bool{
	KindString: true, KindNumber: true, KindBool: true, KindID: true,
	KindStrings: true, KindFile: true, KindFiles: true, KindAny: true,
}

// Reserved names are managed by the engine and cannot be declared.
var Reserved = map[string]bool{
	store.FieldID:           true,
	store.FieldCreationTime: true,
	store.FieldOwner:        true,
	store.FieldUpdatedAt:    true,
	store.FieldDeletedAt:    true,
	store.FieldEditors:      true,
	store.FieldTTL:          true,
}

// Field declares one document field.
type Field struct {
	Name     string `yaml:"name" json:"name"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`

	// Rules is a validator tag applied to the value, e.g. "min=1,max=200".
	Rules string `yaml:"rules,omitempty" json:"rules,omitempty"`

	// Table is the referenced table for KindID fields.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`
}

// Schema is the field list of a table.
type Schema []Field

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// StringFields returns the names of every KindString field.
func (s Schema) StringFields() []string {
	var out []string
	for _, f := range s {
		if f.Kind == KindString {
			out = append(out, f.Name)
		}
	}
	return out
}

// Check reports configuration errors in the schema itself.
func (s Schema) Check() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		switch {
		case f.Name == "":
			return errors.New("field with empty name")
		case Reserved[f.Name]:
			return fmt.Errorf("field %q is managed by the engine and cannot be declared", f.Name)
		case seen[f.Name]:
			return fmt.Errorf("field %q declared twice", f.Name)
		case !kinds[f.Kind]:
			return fmt.Errorf("field %q: unknown kind %q", f.Name, f.Kind)
		}
		seen[f.Name] = true
		if f.Rules != "" {
			if err := checkRules(f.Kind, f.Rules); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	}
	return nil
}

// ValidationError lists per-field problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for n := range e.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + e.Fields[n]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks data against the schema. In partial mode (patches) only
// the present keys are checked and a nil value clears an optional field.
// Keys listed in allow (engine-managed extras such as "orgId") pass through.
func (s Schema) Validate(data store.Doc, partial bool, allow ...string) error {
	errs := map[string]string{}
	allowed := make(map[string]bool, len(allow))
	for _, a := range allow {
		allowed[a] = true
	}

	for k := range data {
		if _, ok := s.Field(k); !ok && !allowed[k] {
			errs[k] = "unknown field"
		}
	}
	for _, f := range s {
		v, present := data[f.Name]
		if !present || v == nil {
			switch {
			case present && !f.Optional:
				errs[f.Name] = "required"
			case !present && !partial && !f.Optional:
				errs[f.Name] = "required"
			}
			continue
		}
		if msg := checkValue(f, v); msg != "" {
			errs[f.Name] = msg
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkValue(f Field, v any) string {
	switch f.Kind {
	case KindString, KindFile:
		if _, ok := v.(string); !ok {
			return "expected a string"
		}
	case KindID:
		s, ok := v.(string)
		if !ok || s == "" {
			return "expected a document id"
		}
	case KindNumber:
		if _, ok := store.ToInt64(v); !ok {
			if _, isFloat := v.(float64); !isFloat {
				return "expected a number"
			}
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return "expected a boolean"
		}
	case KindStrings, KindFiles:
		if !isStringList(v) {
			return "expected a list of strings"
		}
	}
	if f.Rules == "" {
		return ""
	}
	if err := validate().Var(v, f.Rules); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
			}
			return "failed " + fe.Tag()
		}
		return err.Error()
	}
	return ""
}

func isStringList(v any) bool {
	switch l := v.(type) {
	case []string:
		return true
	case []any:
		for _, e := range l {
			if _, ok := e.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

// validate returns the shared validator with custom rules registered.
func validate() *validator.Validate {
	validateOnce.Do(func() {
		validateInst = validator.New()
		_ = validateInst.RegisterValidation("no_xss", validateNoXSS)
	})
	return validateInst
}

// checkRules rejects rule strings the validator cannot parse. The validator
// panics on unknown tags, so the probe recovers.
func checkRules(kind Kind, rules string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rules %q: %v", rules, r)
		}
	}()
	var probe any = ""
	switch kind {
	case KindNumber:
		probe = float64(0)
	case KindBool:
		probe = false
	case KindStrings, KindFiles:
		probe = []string{}
	}
	_ = validate().Var(probe, rules)
	return nil
}

func validateNoXSS(fl validator.FieldLevel) bool {
	value := strings.ToLower(fl.Field().String())
	for _, pattern := range []string{"<script", "javascript:", "onerror=", "onload=", "onclick=", "<iframe"} {
		if strings.Contains(value, pattern) {
			return false
		}
	}
	return true
}
