package fhe

import (
	"crypto/sha256"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/suites"
	"golang.org/x/xerrors"
)

// InputProof is the signature of the runtime over a verified input. The
// ledger contract accepts a handle only together with a proof for its own
// address and the sender of the transaction.
type InputProof []byte

func proofMessage(h Handle, b Binding) []byte {
	msg := sha256.New()
	msg.Write([]byte("cipherscore input proof"))
	msg.Write(h[:])
	msg.Write(b.bytes())
	return msg.Sum(nil)
}

// SignInputProof creates the proof for the handle of an input that has been
// verified for the binding.
func SignInputProof(suite suites.Suite, private kyber.Scalar, h Handle,
	b Binding) (InputProof, error) {
	sig, err := schnorr.Sign(suite, private, proofMessage(h, b))
	if err != nil {
		return nil, xerrors.Errorf("signing input proof: %v", err)
	}
	return InputProof(sig), nil
}

// Verify checks that the proof has been issued by the runtime with the
// public signing key for this handle and binding.
func (p InputProof) Verify(suite suites.Suite, public kyber.Point, h Handle,
	b Binding) error {
	if len(p) == 0 {
		return xerrors.New("empty input proof")
	}
	if err := schnorr.Verify(suite, public, proofMessage(h, b), p); err != nil {
		return xerrors.Errorf("invalid input proof: %v", err)
	}
	return nil
}
