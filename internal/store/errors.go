package store

import "errors"

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrInvalidState     = errors.New("invalid ticket state")
	ErrVersionConflict  = errors.New("ticket version conflict")
	ErrPositionRequired = errors.New("position required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrStaffNotFound    = errors.New("staff not found")
)
