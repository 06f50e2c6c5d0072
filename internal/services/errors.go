package services

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrEmptyQuery     = errors.New("query is empty")
	ErrBadAttachment  = errors.New("attachment could not be read")
	ErrInvalidPayload = errors.New("invalid payload")
)
