package registry

import "errors"

var (
	// ErrNotConnected is returned when an operation requires an established session and none exists.
	ErrNotConnected = errors.New("no wallet session established")
	// ErrRemoteUnavailable is returned when records cannot be fetched from the ledger.
	ErrRemoteUnavailable = errors.New("cannot fetch records from the ledger")
	// ErrUserRejected is returned when the wallet declines to sign a submission.
	ErrUserRejected = errors.New("signing rejected by wallet")
	// ErrInsufficientFunds is returned when the connected account cannot cover a donation.
	ErrInsufficientFunds = errors.New("insufficient funds for donation")
	// ErrRemoteRejected is the class matched by RemoteError through errors.Is.
	ErrRemoteRejected = errors.New("submission rejected by the ledger")
	// ErrBadAmount is returned when a display-unit amount string cannot be parsed.
	ErrBadAmount = errors.New("malformed decimal amount")
)

// RemoteError carries the ledger's stated rejection reason for a failed submission. Reason may be empty when the
// ledger gives none.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return ErrRemoteRejected.Error()
	}
	return "submission rejected by the ledger: " + e.Reason
}

// Is reports class membership so callers can match errors.Is(err, ErrRemoteRejected).
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected
}
