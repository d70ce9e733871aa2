package errors

var (
	ErrUnsupportedType = &DomainError{
		Kind:    KindValidation,
		Code:    "UNSUPPORTED_PAYMENT_TYPE",
		Message: "unsupported payment type",
	}
	ErrPaymentNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "PAYMENT_NOT_FOUND",
		Message: "payment not found",
	}
	ErrPaymentRejected = &DomainError{
		Kind:    KindProvider,
		Code:    "PAYMENT_REJECTED",
		Message: "payment request rejected by provider",
	}
	ErrPaymentTerminal = &DomainError{
		Kind:    KindConflict,
		Code:    "PAYMENT_TERMINAL",
		Message: "payment already finished",
	}
	ErrNotConfirmed = &DomainError{
		Kind:    KindConflict,
		Code:    "PAYMENT_NOT_CONFIRMED",
		Message: "payment is not confirmed",
	}
	ErrUnverifiedCallback = &DomainError{
		Kind:    KindSecurity,
		Code:    "UNVERIFIED_CALLBACK",
		Message: "callback could not be verified",
	}
	ErrReplayedCallback = &DomainError{
		Kind:    KindSecurity,
		Code:    "REPLAYED_CALLBACK",
		Message: "callback outside replay window",
	}
	ErrAmountMismatch = &DomainError{
		Kind:    KindValidation,
		Code:    "AMOUNT_MISMATCH",
		Message: "amount mismatch",
	}
	ErrPlanNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "PLAN_NOT_FOUND",
		Message: "subscription plan not found",
	}
	ErrContentNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "CONTENT_NOT_FOUND",
		Message: "content not found",
	}
)
