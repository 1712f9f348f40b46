package services

// Typed service errors drive the HTTP status mapping in the handlers.

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "validation failed" }

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// UpstreamError covers connectivity and generation failures against the
// inference backend. Its message is user-visible.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string { return e.Message }
