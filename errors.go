package cipherscore

import "golang.org/x/xerrors"

// The errors below are the only ones the components surface to their
// callers. Each external failure is wrapped into one of them at the
// component boundary, so callers match with xerrors.Is.
var (
	// ErrUnsupportedParameterType is returned when no encryption primitive
	// matches the declared type of the target parameter.
	ErrUnsupportedParameterType = xerrors.New("unsupported parameter type")
	// ErrMissingSchema is returned when the target function cannot be
	// resolved in the contract schema.
	ErrMissingSchema = xerrors.New("missing schema")
	// ErrValueOutOfRange is returned when the plaintext does not fit the
	// selected primitive.
	ErrValueOutOfRange = xerrors.New("value out of range")
	// ErrSubmissionRejected is returned when the transaction was declined,
	// reverted or dropped. The player may resubmit.
	ErrSubmissionRejected = xerrors.New("submission rejected")
	// ErrAuthorizationDenied is returned when the decryption authorization
	// was declined, abandoned or refused by the runtime.
	ErrAuthorizationDenied = xerrors.New("authorization denied")
	// ErrDecryptionPartialFailure is returned alongside a result in which at
	// least one handle could not be decrypted.
	ErrDecryptionPartialFailure = xerrors.New("decryption partially failed")
	// ErrTimeout is returned when the confirmation of a sent transaction
	// was not observed in time. The transaction may still land.
	ErrTimeout = xerrors.New("timeout waiting for confirmation")
	// ErrInFlight is returned when a submission is requested while another
	// one of the same player is still running.
	ErrInFlight = xerrors.New("submission already in flight")
)

// RetrySafe returns true if the error guarantees that the ledger did not
// change, so the same operation can be tried again.
func RetrySafe(err error) bool {
	return xerrors.Is(err, ErrSubmissionRejected) ||
		xerrors.Is(err, ErrAuthorizationDenied) ||
		xerrors.Is(err, ErrInFlight)
}

// Inconclusive returns true if the ledger may already hold the effect of
// the failed operation.
func Inconclusive(err error) bool {
	return xerrors.Is(err, ErrTimeout)
}
