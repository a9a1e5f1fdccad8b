// Package httperr defines the RFC 7807 problem envelope and the
// machine-readable error codes surfaced by the gateway and services.
package httperr

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in Problem.Code. Clients branch on these, not on
// the human-readable detail text.
const (
	CodeAuthMissing   = "AUTH_MISSING"
	CodeAuthExpired   = "AUTH_EXPIRED"
	CodeAuthRevoked   = "AUTH_REVOKED"
	CodeAuthInvalid   = "AUTH_INVALID"
	CodeForbidden     = "PERM_FORBIDDEN"
	CodeIPBlocked     = "IP_BLOCKED"
	CodeValidation    = "VALIDATION_FAILED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeGatewayError  = "GATEWAY_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeInsufficient  = "INSUFFICIENT_FUNDS"
	CodeLockContended = "LOCK_CONTENTION"
)

// typeBase is the prefix for problem type URIs.
const typeBase = "https://tradegate.dev/problems"

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Problem is the RFC 7807 error body. Every non-2xx response from the
// gateway or a service uses this shape.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Code     string       `json:"code,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// New builds a Problem with the type URI derived from slug.
func New(status int, slug, title, detail string) *Problem {
	return &Problem{
		Type:   typeBase + "/" + slug,
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithCode sets the machine-readable error code.
func (p *Problem) WithCode(code string) *Problem {
	p.Code = code
	return p
}

// WithErrors attaches field-level validation errors.
func (p *Problem) WithErrors(errs []FieldError) *Problem {
	p.Errors = errs
	return p
}

// Abort writes the problem to the response and aborts the gin chain.
// Instance is filled from the request path if unset.
func (p *Problem) Abort(c *gin.Context) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(p.Status, p)
}

// Common constructors. Each maps one error kind from the propagation table
// to its status, slug, and code.

func AuthMissing(detail string) *Problem {
	return New(http.StatusUnauthorized, "authentication-error", "Unauthorized", detail).WithCode(CodeAuthMissing)
}

func AuthExpired(detail string) *Problem {
	return New(http.StatusUnauthorized, "authentication-error", "Unauthorized", detail).WithCode(CodeAuthExpired)
}

func AuthRevoked(detail string) *Problem {
	return New(http.StatusUnauthorized, "authentication-error", "Unauthorized", detail).WithCode(CodeAuthRevoked)
}

func AuthInvalid(detail string) *Problem {
	return New(http.StatusUnauthorized, "authentication-error", "Unauthorized", detail).WithCode(CodeAuthInvalid)
}

func Forbidden(detail string) *Problem {
	return New(http.StatusForbidden, "authorization-error", "Forbidden", detail).WithCode(CodeForbidden)
}

func IPBlocked(detail string) *Problem {
	return New(http.StatusForbidden, "authentication-error", "Forbidden", detail).WithCode(CodeIPBlocked)
}

func Validation(detail string, errs []FieldError) *Problem {
	return New(http.StatusUnprocessableEntity, "validation-error", "Unprocessable Entity", detail).
		WithCode(CodeValidation).WithErrors(errs)
}

func NotFound(detail string) *Problem {
	return New(http.StatusNotFound, "not-found", "Not Found", detail).WithCode(CodeNotFound)
}

func Conflict(detail string) *Problem {
	return New(http.StatusConflict, "conflict", "Conflict", detail).WithCode(CodeConflict)
}

func RateLimited(detail string) *Problem {
	return New(http.StatusTooManyRequests, "rate-limited", "Too Many Requests", detail).WithCode(CodeRateLimited)
}

func Unavailable(detail string) *Problem {
	return New(http.StatusServiceUnavailable, "service-unavailable", "Service Unavailable", detail).WithCode(CodeUnavailable)
}

func BadGateway(detail string) *Problem {
	return New(http.StatusBadGateway, "gateway-error", "Bad Gateway", detail).WithCode(CodeGatewayError)
}

func GatewayTimeout(detail string) *Problem {
	return New(http.StatusGatewayTimeout, "gateway-error", "Gateway Timeout", detail).WithCode(CodeGatewayError)
}

func Internal() *Problem {
	return New(http.StatusInternalServerError, "internal-error", "Internal Server Error",
		"An unexpected error occurred").WithCode(CodeInternal)
}

func InsufficientFunds(detail string) *Problem {
	return New(http.StatusUnprocessableEntity, "insufficient-funds", "Unprocessable Entity", detail).WithCode(CodeInsufficient)
}

func LockContention(detail string) *Problem {
	return New(http.StatusServiceUnavailable, "service-unavailable", "Service Unavailable", detail).WithCode(CodeLockContended)
}
