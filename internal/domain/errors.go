package domain

import "errors"

// Repository lookups return these when the row does not exist
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message not found")
)
