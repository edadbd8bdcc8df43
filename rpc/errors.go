package rpc

import (
	"context"
	"errors"
	"net/http"

	"subledger/native/subscription"
)

// statusFor maps a ledger failure onto its class and HTTP status.
func statusFor(err error) (subscription.ErrorClass, int) {
	switch {
	case errors.Is(err, subscription.ErrUnauthorized):
		return subscription.ClassPrecondition, http.StatusForbidden
	case errors.Is(err, subscription.ErrNoSubscription):
		return subscription.ClassPrecondition, http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return subscription.ClassInternal, http.StatusServiceUnavailable
	}
	class := subscription.ClassOf(err)
	switch class {
	case subscription.ClassValidation:
		return class, http.StatusBadRequest
	case subscription.ClassPrecondition:
		return class, http.StatusConflict
	case subscription.ClassInsufficient:
		return class, http.StatusUnprocessableEntity
	case subscription.ClassTransfer:
		return class, http.StatusBadGateway
	default:
		return class, http.StatusInternalServerError
	}
}
