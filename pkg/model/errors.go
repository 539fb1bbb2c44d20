package model

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrAccessDenied   = errors.New("access denied")
	ErrNotFound       = errors.New("not found")
	ErrInvalidReply   = errors.New("reply parent belongs to a different container")
	ErrTransientStore = errors.New("store unavailable")
)

// ErrorCode maps a domain error to the wire code carried by error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidReply):
		return "invalid_reply"
	case errors.Is(err, ErrTransientStore):
		return "store_unavailable"
	default:
		return "internal_error"
	}
}
