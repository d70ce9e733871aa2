package errors

var (
	ErrBatchInFlight = &DomainError{
		Kind:    KindConflict,
		Code:    "BATCH_IN_FLIGHT",
		Message: "a disbursement batch is already in progress",
	}
	ErrBatchNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "BATCH_NOT_FOUND",
		Message: "disbursement batch not found",
	}
	ErrNoEligiblePayees = &DomainError{
		Kind:    KindConflict,
		Code:    "NO_ELIGIBLE_PAYEES",
		Message: "no payees above the disbursement floor",
	}
	ErrBatchNotPending = &DomainError{
		Kind:    KindConflict,
		Code:    "BATCH_NOT_PENDING",
		Message: "batch is no longer pending",
	}
	ErrItemNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "ITEM_NOT_FOUND",
		Message: "disbursement item not found",
	}
	ErrItemNotRetryable = &DomainError{
		Kind:    KindConflict,
		Code:    "ITEM_NOT_RETRYABLE",
		Message: "item cannot be retried",
	}
	ErrRetryLimit = &DomainError{
		Kind:    KindConflict,
		Code:    "RETRY_LIMIT",
		Message: "retry limit reached",
	}
)
