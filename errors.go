package sitegate

import (
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized       = "UNAUTHORIZED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenEncoding      = "TOKEN_ENCODING"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeValidation         = "VALIDATION_FAILED"
	TextCodeConflict           = "CONFLICT"
	TextCodeAlreadyExists      = "ALREADY_EXISTS"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeTransient          = "TRANSIENT"
	TextCodeInvariantViolation = "INVARIANT_VIOLATION"
	TextCodeRateLimited        = "RATE_LIMITED"
)

// ErrUnauthorized is returned for a bad PIN or a missing admin session.
// It never says which check failed.
var ErrUnauthorized = goerrors.New("unauthorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is past its exp claim
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for forged, truncated or foreign tokens
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenEncoding is returned when a payload cannot be serialized into a token
var ErrTokenEncoding = goerrors.New("token payload is not serializable", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenEncoding).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned when email/password do not match a user
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrConflict is returned when a uniqueness constraint rejects a write
var ErrConflict = goerrors.New("conflicting record", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyExists is returned by non idempotent creates
var ErrAlreadyExists = goerrors.New("record already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrNotFound is returned when an operation requires an existing record
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrRateLimited is returned when a caller exceeds the login attempt budget
var ErrRateLimited = goerrors.New("too many attempts", goerrors.CategoryAuth).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrNoEmptyString is returned when hashing an empty secret
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword hash and password do not match
var ErrMismatchedHashAndPassword = goerrors.New("mismatched hash and password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToFindSession is the error when a request carries no session cookie
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get identity claims from token
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// Unauthorized returns a copy of ErrUnauthorized carrying the given cause.
func Unauthorized(cause error) error {
	return withSource(ErrUnauthorized, cause)
}

// NotFound returns a NotFound error annotated with metadata.
func NotFound(message string, metadata map[string]any) error {
	err := ErrNotFound.Clone()
	if message != "" {
		err.Message = message
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// Conflict wraps a uniqueness violation.
func Conflict(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryConflict, message).
		WithTextCode(TextCodeConflict).
		WithCode(goerrors.CodeConflict)
}

// Transient wraps a store or cache failure that is safe to retry.
func Transient(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeTransient).
		WithCode(http.StatusServiceUnavailable)
}

// InvariantViolation describes counter drift found during replay. It is logged
// by the reconciler and never sent to end users.
func InvariantViolation(message string, metadata map[string]any) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(TextCodeInvariantViolation).
		WithCode(goerrors.CodeInternal).
		WithMetadata(metadata)
}

// NewValidationError reports every violated rule keyed by rule name.
func NewValidationError(violations map[string]string) error {
	meta := make(map[string]any, len(violations))
	for rule, msg := range violations {
		meta[rule] = msg
	}
	return goerrors.New("validation failed", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"violations": meta})
}

// Violations extracts the rule names and messages from a validation error.
func Violations(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}
	raw, ok := richErr.Metadata["violations"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// ViolatedRules returns the sorted rule names of a validation error.
func ViolatedRules(err error) []string {
	v := Violations(err)
	rules := make([]string, 0, len(v))
	for k := range v {
		rules = append(rules, k)
	}
	sort.Strings(rules)
	return rules
}

// IsUnauthorized reports whether err belongs to the auth category.
func IsUnauthorized(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation)
}

// IsConflict reports whether err is a Conflict or AlreadyExists error
func IsConflict(err error) bool {
	return hasCategory(err, goerrors.CategoryConflict)
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// IsTransient reports whether err is a retryable store/cache failure
func IsTransient(err error) bool {
	return hasTextCode(err, TextCodeTransient)
}

// IsInvariantViolation reports whether err describes counter drift
func IsInvariantViolation(err error) bool {
	return hasTextCode(err, TextCodeInvariantViolation)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// HTTPStatus maps an error onto the status code a handler should answer with.
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

func hasCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func withSource(base *goerrors.Error, cause error) error {
	clone := base.Clone()
	if cause != nil {
		clone.Source = cause
	}
	return clone
}
