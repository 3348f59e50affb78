package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error represents an application error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// JSON returns the error as a JSON string
func (e *Error) JSON() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of the template error carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	return New(e.Code, e.Message, err)
}

// Common error types
var (
	ErrBadRequest         = New(http.StatusBadRequest, "Bad request", nil)
	ErrNotFound           = New(http.StatusNotFound, "Not found", nil)
	ErrConflict           = New(http.StatusConflict, "Conflict", nil)
	ErrTooLarge           = New(http.StatusRequestEntityTooLarge, "Payload too large", nil)
	ErrTooManyRequests    = New(http.StatusTooManyRequests, "Too many requests", nil)
	ErrInternalServer     = New(http.StatusInternalServerError, "Internal server error", nil)
	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "Service unavailable", nil)
)

// Validation error types
var (
	ErrValidation   = New(http.StatusBadRequest, "Validation error", nil)
	ErrInvalidInput = New(http.StatusBadRequest, "Invalid input", nil)
)

// Upload error types
var (
	ErrIncompleteUpload = New(http.StatusConflict, "Upload is incomplete", nil)
	ErrUploadNotFound   = New(http.StatusNotFound, "Upload not found", nil)
	ErrJobNotFound      = New(http.StatusNotFound, "Import job not found", nil)
)

// From converts any error into an *Error, defaulting to a 500.
func From(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.Wrap(err)
}

// Abort writes err as the JSON response and stops the handler chain.
func Abort(c *gin.Context, err error) {
	appErr := From(err)
	_ = c.Error(appErr)
	c.AbortWithStatusJSON(appErr.Code, appErr)
}

// ErrorMiddleware renders the last handler error that was not already written.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := From(c.Errors.Last().Err)
		c.JSON(appErr.Code, appErr)
		c.Abort()
	}
}
