package fhe

import (
	"context"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Errors reported per handle by the runtime.
var (
	ErrUnknownHandle = xerrors.New("unknown handle")
	ErrAccessDenied  = xerrors.New("access denied")
	ErrInvalidShare  = xerrors.New("invalid share")
)

// ErrAuthorizationRefused is returned by the runtime when the authorization
// of a whole request is not acceptable (bad signature, expired, other
// chain).
var ErrAuthorizationRefused = xerrors.New("authorization refused")

// Reasons transported for each handle of a decryption reply.
const (
	ReasonNone = iota
	ReasonUnknownHandle
	ReasonAccessDenied
	ReasonInvalidShare
)

// PublicKeys are the keys of the runtime. Encryption is used by clients to
// create inputs, Signing to verify input proofs.
type PublicKeys struct {
	Encryption kyber.Point
	Signing    kyber.Point
}

// ShareResult is the outcome of the decryption of one handle.
type ShareResult struct {
	Handle Handle
	Share  *Share
	Reason int
}

// Err returns the error of the result, or nil if the share is usable.
func (r ShareResult) Err() error {
	switch r.Reason {
	case ReasonNone:
		if r.Share == nil {
			return ErrInvalidShare
		}
		return nil
	case ReasonUnknownHandle:
		return ErrUnknownHandle
	case ReasonAccessDenied:
		return ErrAccessDenied
	default:
		return ErrInvalidShare
	}
}

// Runtime is the trusted FHE runtime. It encrypts values for a binding and
// re-encrypts stored values to authorized subjects.
type Runtime interface {
	// PublicKeys returns the keys of the runtime.
	PublicKeys(ctx context.Context) (*PublicKeys, error)
	// Encrypt creates a ciphertext of value for the binding and registers it
	// with the runtime. The returned proof is only valid for b.
	Encrypt(ctx context.Context, b Binding, p Primitive, value uint64) (Handle, InputProof, error)
	// UserDecrypt re-encrypts all handles in one request. Handles that
	// cannot be served are reported in the result, the call only fails if
	// the authorization or the transport fails.
	UserDecrypt(ctx context.Context, handles []Handle, auth *Authorization) ([]ShareResult, error)
}
