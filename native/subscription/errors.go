package subscription

import "errors"

// ErrorClass groups failures so automated callers can branch on cause.
type ErrorClass string

const (
	// ClassValidation marks malformed input.
	ClassValidation ErrorClass = "validation"
	// ClassPrecondition marks calls that are well formed but not allowed in
	// the current state.
	ClassPrecondition ErrorClass = "precondition"
	// ClassInsufficient marks calls that ask for more than is available.
	ClassInsufficient ErrorClass = "insufficient"
	// ClassTransfer marks value transfers rejected by the other party.
	ClassTransfer ErrorClass = "transfer"
	// ClassInternal marks storage or wiring faults.
	ClassInternal ErrorClass = "internal"
)

// Error is a stable, classified ledger failure.
type Error struct {
	Class  ErrorClass
	Reason string
}

func (e *Error) Error() string { return "subscription: " + e.Reason }

func newError(class ErrorClass, reason string) *Error {
	return &Error{Class: class, Reason: reason}
}

var (
	ErrInvalidConfig        = newError(ClassValidation, "invalid configuration")
	ErrInvalidAmount        = newError(ClassValidation, "amount must be positive")
	ErrAmountOverflow       = newError(ClassValidation, "amount exceeds 256 bits")
	ErrPurchaseBelowMinimum = newError(ClassValidation, "purchase below minimum")
	ErrZeroAccount          = newError(ClassValidation, "account required")
	ErrInvalidSeconds       = newError(ClassValidation, "seconds must be positive")
	ErrInvalidReferrer      = newError(ClassValidation, "invalid referrer")
	ErrInvalidReferralBps   = newError(ClassValidation, "referral bps out of range")
	ErrInvalidReferralCode  = newError(ClassValidation, "referral code must be non-zero")
	ErrEmptyBatch           = newError(ClassValidation, "no accounts supplied")
	ErrSelfTransfer         = newError(ClassValidation, "source and destination are the same account")
	ErrSupplyCapBelowIssued = newError(ClassValidation, "supply cap below issued records")

	ErrNotInitialized           = newError(ClassPrecondition, "ledger not initialized")
	ErrAlreadyInitialized       = newError(ClassPrecondition, "ledger already initialized")
	ErrUnauthorized             = newError(ClassPrecondition, "caller not authorized")
	ErrPaused                   = newError(ClassPrecondition, "purchases paused")
	ErrSupplyCapReached         = newError(ClassPrecondition, "supply cap reached")
	ErrSubscriptionInactive     = newError(ClassPrecondition, "subscription inactive")
	ErrNotLapsed                = newError(ClassPrecondition, "subscription has not lapsed")
	ErrAlreadySlashed           = newError(ClassPrecondition, "lapse already slashed")
	ErrNothingToSlash           = newError(ClassPrecondition, "nothing to slash")
	ErrNoSubscription           = newError(ClassPrecondition, "no subscription")
	ErrRecipientHasSubscription = newError(ClassPrecondition, "recipient already holds a subscription")
	ErrReferralCodeExists       = newError(ClassPrecondition, "referral code exists")
	ErrReferralCodeNotFound     = newError(ClassPrecondition, "referral code not found")
	ErrTransferRecipientNotSet  = newError(ClassPrecondition, "transfer recipient not set")
	ErrFeesDisabled             = newError(ClassPrecondition, "fees disabled")
	ErrReentrantCall            = newError(ClassPrecondition, "reentrant call")

	ErrInsufficientBalance = newError(ClassInsufficient, "insufficient creator balance")
	ErrInsufficientFunds   = newError(ClassInsufficient, "insufficient funds or allowance")
	ErrNothingOwed         = newError(ClassInsufficient, "nothing owed")

	ErrTransferFailed = newError(ClassTransfer, "value transfer failed")

	errNilState    = newError(ClassInternal, "state not configured")
	errNilGateway  = newError(ClassInternal, "value gateway not configured")
	errNilRegistry = newError(ClassInternal, "ownership registry not configured")

	// ErrInvariantViolation is reported by CheckInvariants.
	ErrInvariantViolation = newError(ClassInternal, "invariant violated")
)

// ClassOf reports the class of a ledger error, or ClassInternal for anything
// the ledger did not classify.
func ClassOf(err error) ErrorClass {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Class
	}
	return ClassInternal
}
