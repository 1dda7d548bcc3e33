package request

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// DefaultMaxValueLength bounds parameter values when a constraint does not
// declare its own limit. Upstream APIs answer oversized identifiers with
// opaque 404/500 responses; rejecting early produces a ValidationError the
// caller can act on.
const DefaultMaxValueLength = 256

// ValueType declares the expected shape of a parameter value
type ValueType string

const (
	// TypeString accepts any text within the declared character class
	TypeString ValueType = "string"
	// TypeInt accepts base-10 integers
	TypeInt ValueType = "int"
	// TypeFloat accepts decimal numbers
	TypeFloat ValueType = "float"
	// TypeDate accepts ISO dates (YYYY-MM-DD)
	TypeDate ValueType = "date"
	// TypeBool accepts true/false
	TypeBool ValueType = "bool"
)

// Constraint declares what one parameter may contain. Violations are
// reported as ValidationError before any URL or path is built from the
// value.
type Constraint struct {
	// Name is the parameter key this constraint applies to
	Name string
	// Type declares the value shape; empty means TypeString
	Type ValueType
	// Pattern restricts the permitted character class; nil means any
	// printable text
	Pattern *regexp.Regexp
	// MaxLength bounds the value; 0 means DefaultMaxValueLength
	MaxLength int
	// Required rejects requests that omit the parameter
	Required bool
	// Enum lists the permitted values for a known enumeration such as
	// region codes. Matching is case-insensitive and Canonicalize rewrites
	// the value to the declared casing.
	Enum []string
}

// Schema is the full parameter declaration for one endpoint.
type Schema struct {
	constraints map[string]*Constraint
	// Strict rejects parameters with no declared constraint
	Strict bool
}

// NewSchema builds a Schema from constraints.
func NewSchema(constraints ...*Constraint) *Schema {
	s := &Schema{constraints: make(map[string]*Constraint, len(constraints))}
	for _, c := range constraints {
		s.constraints[c.Name] = c
	}
	return s
}

// Validate checks every parameter against its declared constraint and the
// unconditional safety rules (no control characters, no NUL bytes, bounded
// length). The safety rules apply to parameter names as well as values:
// the fingerprint delimits fields with NUL bytes, so a NUL-bearing name
// could collide two distinct requests if it were ever accepted. Error
// messages identify the parameter and the rule, never the raw value, so
// credential-shaped input is not echoed into logs.
func (s *Schema) Validate(params map[string]string) error {
	for _, c := range s.constraints {
		if c.Required {
			if v, ok := params[c.Name]; !ok || v == "" {
				return errors.Newf(errors.ErrorTypeValidation, "parameter %q is required", c.Name)
			}
		}
	}

	for name, value := range params {
		if err := checkName(name); err != nil {
			return err
		}
		c := s.constraints[name]
		if c == nil {
			if s.Strict {
				return errors.Newf(errors.ErrorTypeValidation, "parameter %q is not recognized", name)
			}
			c = &Constraint{Name: name}
		}
		if err := c.check(value); err != nil {
			return err
		}
	}

	return nil
}

// Canonicalize returns a copy of params with enum values rewritten to their
// declared casing. Ordering is handled by the fingerprint, which always
// sorts keys.
func (s *Schema) Canonicalize(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for name, value := range params {
		if c := s.constraints[name]; c != nil && len(c.Enum) > 0 {
			for _, allowed := range c.Enum {
				if strings.EqualFold(allowed, value) {
					value = allowed
					break
				}
			}
		}
		out[name] = value
	}
	return out
}

// checkName applies the unconditional safety rules to a parameter name.
// The name is never echoed back: a rejected name is by definition unsafe
// to put in a log line.
func checkName(name string) error {
	if name == "" {
		return errors.New(errors.ErrorTypeValidation, "parameter name cannot be empty")
	}
	if len(name) > DefaultMaxValueLength {
		return errors.Newf(errors.ErrorTypeValidation,
			"a parameter name exceeds maximum length %d", DefaultMaxValueLength)
	}
	for _, r := range name {
		if r == 0 || unicode.IsControl(r) {
			return errors.New(errors.ErrorTypeValidation,
				"a parameter name contains control characters")
		}
	}
	return nil
}

// ValidateEndpoint applies the same safety rules to an endpoint path
// before any fingerprint or URL is derived from it.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New(errors.ErrorTypeValidation, "endpoint cannot be empty")
	}
	for _, r := range endpoint {
		if r == 0 || unicode.IsControl(r) {
			return errors.New(errors.ErrorTypeValidation,
				"endpoint contains control characters")
		}
	}
	return nil
}

func (c *Constraint) check(value string) error {
	maxLen := c.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxValueLength
	}
	if len(value) > maxLen {
		return errors.Newf(errors.ErrorTypeValidation,
			"parameter %q exceeds maximum length %d", c.Name, maxLen)
	}

	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errors.Newf(errors.ErrorTypeValidation,
				"parameter %q contains control characters", c.Name)
		}
	}

	switch c.Type {
	case "", TypeString:
		// character class checked below
	case TypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "parameter %q must be an integer", c.Name)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "parameter %q must be a number", c.Name)
		}
	case TypeDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "parameter %q must be a date (YYYY-MM-DD)", c.Name)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "parameter %q must be a boolean", c.Name)
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "parameter %q has unknown type %q", c.Name, c.Type)
	}

	if c.Pattern != nil && !c.Pattern.MatchString(value) {
		return errors.Newf(errors.ErrorTypeValidation,
			"parameter %q contains characters outside the permitted class", c.Name)
	}

	if len(c.Enum) > 0 {
		matched := false
		for _, allowed := range c.Enum {
			if strings.EqualFold(allowed, value) {
				matched = true
				break
			}
		}
		if !matched {
			return errors.Newf(errors.ErrorTypeValidation,
				"parameter %q is not one of the permitted values", c.Name)
		}
	}

	return nil
}
