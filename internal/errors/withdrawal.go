package errors

var (
	ErrBelowMinimum = &DomainError{
		Kind:    KindValidation,
		Code:    "BELOW_MINIMUM",
		Message: "amount below minimum withdrawal",
	}
	ErrOutstandingRequest = &DomainError{
		Kind:    KindConflict,
		Code:    "OUTSTANDING_REQUEST",
		Message: "a withdrawal request is already outstanding",
	}
	ErrWithdrawalNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "WITHDRAWAL_NOT_FOUND",
		Message: "withdrawal request not found",
	}
	ErrInvalidTransition = &DomainError{
		Kind:    KindConflict,
		Code:    "INVALID_TRANSITION",
		Message: "request cannot move to that status",
	}
	ErrTransferFailed = &DomainError{
		Kind:    KindProvider,
		Code:    "TRANSFER_FAILED",
		Message: "outbound transfer failed",
	}
	ErrNoActiveChannel = &DomainError{
		Kind:    KindValidation,
		Code:    "NO_ACTIVE_CHANNEL",
		Message: "no verified payout channel",
	}
	ErrChannelNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "CHANNEL_NOT_FOUND",
		Message: "channel not found",
	}
	ErrChannelExists = &DomainError{
		Kind:    KindConflict,
		Code:    "CHANNEL_EXISTS",
		Message: "remove the active channel first",
	}
	ErrChannelCooldown = &DomainError{
		Kind:    KindConflict,
		Code:    "CHANNEL_COOLDOWN",
		Message: "channel is in cooldown",
	}
	ErrChannelVerified = &DomainError{
		Kind:    KindConflict,
		Code:    "CHANNEL_VERIFIED",
		Message: "channel already verified",
	}
	ErrInvalidCode = &DomainError{
		Kind:    KindValidation,
		Code:    "INVALID_CODE",
		Message: "verification code is invalid",
	}
	ErrCodeExpired = &DomainError{
		Kind:    KindValidation,
		Code:    "CODE_EXPIRED",
		Message: "verification code expired",
	}
	ErrTooManyAttempts = &DomainError{
		Kind:    KindForbidden,
		Code:    "TOO_MANY_ATTEMPTS",
		Message: "too many verification attempts",
	}
	ErrNoLinkedAccount = &DomainError{
		Kind:    KindValidation,
		Code:    "NO_LINKED_ACCOUNT",
		Message: "no linked payout account for this email",
	}
)
