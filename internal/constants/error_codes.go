package constants

const (
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeAccountLocked    = "ACCOUNT_LOCKED"
	ErrCodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeIllegalState     = "ILLEGAL_STATE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
