package errors

var (
	ErrInsufficientBalance = &DomainError{
		Kind:    KindConflict,
		Code:    "INSUFFICIENT_BALANCE",
		Message: "insufficient wallet balance",
	}
	ErrInvalidAmount = &DomainError{
		Kind:    KindValidation,
		Code:    "INVALID_AMOUNT",
		Message: "invalid amount",
	}
	ErrWalletNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "NOT_FOUND",
		Message: "record not found",
	}
	ErrValidation = &DomainError{
		Kind:    KindValidation,
		Code:    "VALIDATION_FAILED",
		Message: "validation failed",
	}
	ErrForbidden = &DomainError{
		Kind:    KindForbidden,
		Code:    "FORBIDDEN",
		Message: "operation not permitted",
	}
	ErrUnavailable = &DomainError{
		Kind:    KindProvider,
		Code:    "PROVIDER_UNAVAILABLE",
		Message: "provider unavailable",
	}
)
