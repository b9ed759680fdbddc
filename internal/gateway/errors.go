package gateway

import "errors"

var (
	ErrInvalidTenantID  = errors.New("invalid session id: use 3-50 letters, digits, underscores or hyphens")
	ErrNotAuthenticated = errors.New("session not found or not authenticated")
	ErrSessionNotFound  = errors.New("session not found")
	ErrShuttingDown     = errors.New("gateway is shutting down")
)
