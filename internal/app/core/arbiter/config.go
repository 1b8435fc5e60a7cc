// Package arbiter implements the base arbiter lifecycle (spec §4.E): config
// validation, the CLOSED/OPEN/HALF_OPEN-guarded memorize/recall contract,
// micro-agent/clone capacity management, and derived health.
package arbiter

import (
	"fmt"
	"sort"

	"github.com/dop251/goja"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
)

// FieldType names the accepted Go-level kinds a config value may hold.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
)

// Field is one declarative rule in a config schema. Required/Type/Enum/
// Min/Max are plain checks; Validate is an optional JS boolean expression
// evaluated with the field's value bound to `v`, letting operators add a
// custom predicate without a rebuild.
type Field struct {
	Name     string
	Required bool
	Type     FieldType
	Enum     []string
	Min      *float64
	Max      *float64
	Validate string
}

// Schema is a named set of field rules evaluated against a config map.
type Schema []Field

// Validate checks cfg against s, returning a CONFIG_VALIDATION_ERROR
// (spec §4.E) naming every offending field when cfg does not satisfy the
// schema. Validation runs in field-declaration order but collects every
// offense rather than stopping at the first.
func (s Schema) Validate(cfg map[string]interface{}) *errors.RuntimeError {
	var offenses []string

	for _, f := range s {
		val, present := cfg[f.Name]
		if !present || val == nil {
			if f.Required {
				offenses = append(offenses, fmt.Sprintf("%s: required", f.Name))
			}
			continue
		}
		if msg := f.checkType(val); msg != "" {
			offenses = append(offenses, msg)
			continue
		}
		if msg := f.checkEnum(val); msg != "" {
			offenses = append(offenses, msg)
		}
		if msg := f.checkRange(val); msg != "" {
			offenses = append(offenses, msg)
		}
		if msg := f.checkPredicate(val); msg != "" {
			offenses = append(offenses, msg)
		}
	}

	if len(offenses) == 0 {
		return nil
	}
	sort.Strings(offenses)
	return errors.ConfigValidation(offenses)
}

func (f Field) checkType(val interface{}) string {
	if f.Type == "" {
		return ""
	}
	ok := false
	switch f.Type {
	case TypeString:
		_, ok = val.(string)
	case TypeBool:
		_, ok = val.(bool)
	case TypeInt:
		switch val.(type) {
		case int, int32, int64:
			ok = true
		}
	case TypeFloat:
		switch val.(type) {
		case float32, float64, int, int32, int64:
			ok = true
		}
	}
	if !ok {
		return fmt.Sprintf("%s: expected type %s", f.Name, f.Type)
	}
	return ""
}

func (f Field) checkEnum(val interface{}) string {
	if len(f.Enum) == 0 {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		return ""
	}
	for _, e := range f.Enum {
		if e == s {
			return ""
		}
	}
	return fmt.Sprintf("%s: must be one of %v", f.Name, f.Enum)
}

func (f Field) checkRange(val interface{}) string {
	if f.Min == nil && f.Max == nil {
		return ""
	}
	n, ok := asFloat(val)
	if !ok {
		return ""
	}
	if f.Min != nil && n < *f.Min {
		return fmt.Sprintf("%s: must be >= %v", f.Name, *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("%s: must be <= %v", f.Name, *f.Max)
	}
	return ""
}

// checkPredicate evaluates f.Validate, a JS expression bound to `v`, with
// goja. A falsy result or a script error is reported as an offense; an
// empty Validate string is a no-op.
func (f Field) checkPredicate(val interface{}) string {
	if f.Validate == "" {
		return ""
	}
	vm := goja.New()
	if err := vm.Set("v", val); err != nil {
		return fmt.Sprintf("%s: predicate setup failed: %v", f.Name, err)
	}
	result, err := vm.RunString(f.Validate)
	if err != nil {
		return fmt.Sprintf("%s: predicate error: %v", f.Name, err)
	}
	if !result.ToBoolean() {
		return fmt.Sprintf("%s: failed custom predicate", f.Name)
	}
	return ""
}

func asFloat(val interface{}) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
