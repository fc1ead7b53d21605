// Package validation provides input validation middleware for the BankShield API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// idRegex validates prefixed identifiers issued by idgen (ses_, risk_, hdl_, ...)
	idRegex = regexp.MustCompile(`^[a-z]{2,8}_[a-f0-9]{16,64}$`)
	// signalSourceRegex validates signal source names (lowercase, dot or dash separated)
	signalSourceRegex = regexp.MustCompile(`^[a-z][a-z0-9]*([._-][a-z0-9]+)*$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a well-formed prefixed identifier
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidSignalSource checks if a string is a well-formed signal source name
func IsValidSignalSource(s string) bool {
	return signalSourceRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// SanitizeSource normalizes a signal source name
func SanitizeSource(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidSource checks if a field is a valid signal source name
func ValidSource(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidSignalSource(value) {
			return &ValidationError{Field: field, Message: "must be a lowercase dotted source name (e.g. device.fingerprint)"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// SessionParamMiddleware validates the :id URL parameter on session routes.
// Apply to route groups that include :id params to reject malformed IDs early.
func SessionParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_session_id",
				"message": "session id must be a prefixed identifier (e.g. ses_...)",
			})
			return
		}
		c.Next()
	}
}

// ValidConfidence checks if a value is a confidence percentage in [0, 100]
func ValidConfidence(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 || value > 100 {
			return &ValidationError{Field: field, Message: "must be between 0 and 100"}
		}
		return nil
	}
}

// ValidWeight checks if a value is a positive signal weight
func ValidWeight(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}
