// Package validation provides request input validation for the platform
// services.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/openmarkets/tradegate/internal/httperr"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for string fields.
const MaxStringLength = 10000

// subjectRegex validates account subjects: lowercase alphanumerics, dots,
// dashes, underscores, 3-64 chars.
var subjectRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidSubject checks whether s is a well-formed account subject.
func IsValidSubject(s string) bool {
	return subjectRegex.MatchString(s)
}

// SanitizeString trims whitespace, strips null bytes, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Validate runs the given validators and collects field errors.
func Validate(validators ...func() *httperr.FieldError) []httperr.FieldError {
	var errs []httperr.FieldError
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if strings.TrimSpace(value) == "" {
			return &httperr.FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks that a field does not exceed max bytes.
func MaxLength(field, value string, max int) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if len(value) > max {
			return &httperr.FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MinLength checks that a field has at least min bytes. Empty values pass;
// use Required for required fields.
func MinLength(field, value string, min int) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if value != "" && len(value) < min {
			return &httperr.FieldError{Field: field, Message: "is too short"}
		}
		return nil
	}
}

// ValidSubject checks that a field is a well-formed subject. Empty values
// pass; use Required for required fields.
func ValidSubject(field, value string) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if value != "" && !IsValidSubject(value) {
			return &httperr.FieldError{Field: field, Message: "must be 3-64 lowercase alphanumerics, dots, dashes, or underscores"}
		}
		return nil
	}
}

// PositiveDecimal checks that a field parses as a decimal greater than zero.
// Empty values pass; use Required for required fields.
func PositiveDecimal(field, value string) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if value == "" {
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return &httperr.FieldError{Field: field, Message: "must be a decimal number", Value: value}
		}
		if !d.IsPositive() {
			return &httperr.FieldError{Field: field, Message: "must be greater than zero", Value: value}
		}
		return nil
	}
}

// OneOf checks that a field equals one of the allowed values. Empty values
// pass; use Required for required fields.
func OneOf(field, value string, allowed ...string) func() *httperr.FieldError {
	return func() *httperr.FieldError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &httperr.FieldError{
			Field:   field,
			Message: "must be one of: " + strings.Join(allowed, ", "),
			Value:   value,
		}
	}
}
