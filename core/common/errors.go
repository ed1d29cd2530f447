package common

import (
	"errors"
	"fmt"
)

/*Error type for a new application error */
type Error struct {
	Code       string `json:"code,omitempty"`
	Msg        string `json:"msg"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s: %s", err.Code, err.Msg)
}

/*NewError - create a new error */
func NewError(code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

/*NewErrorf - create a new error with format */
func NewErrorf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Error codes used across the attachment subsystem.
const (
	ErrCodeUploadValidation = "upload_validation_failed"
	ErrCodeStorageWrite     = "storage_write_error"
	ErrCodeDuplicate        = "duplicate_conflict"
	ErrCodeNotFound         = "not_found"
	ErrCodeProcessing       = "processing_error"
	ErrCodeInvalidParams    = "invalid_parameters"
	ErrCodeDBOpen           = "db_open_error"
)

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code string) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

/*InvalidRequest - create error messages that are needed when validating request input */
func InvalidRequest(msg string) error {
	return NewError(ErrCodeInvalidParams, fmt.Sprintf("Invalid request (%v)", msg))
}
