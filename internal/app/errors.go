package app

import "errors"

var (
	// ErrStaleAmount is returned when a payment order is requested for an
	// amount that no longer matches the bill's current total. The client must
	// re-read the bill before retrying.
	ErrStaleAmount = errors.New("claimed amount is stale; bill total has changed")

	// ErrNoRecipients is returned when a personal notification is posted with
	// an empty recipient list.
	ErrNoRecipients = errors.New("personal notification requires at least one recipient")

	// ErrInvalidRequest covers malformed business inputs that survive JSON
	// decoding (bad period, non-positive amounts, unknown notification type).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrForbidden is returned when a tenant addresses a resource that does
	// not belong to them.
	ErrForbidden = errors.New("resource does not belong to the caller")

	// ErrRateLimited is returned when a tenant exceeds the payment endpoint
	// rate limits.
	ErrRateLimited = errors.New("rate limit exceeded")
)
