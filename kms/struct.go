package kms

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(
		GetPublicKeys{}, GetPublicKeysReply{},
		VerifyInput{}, VerifyInputReply{},
		UserDecrypt{}, UserDecryptReply{},
	)
}

// GetPublicKeys asks for the encryption and signing keys of the runtime.
type GetPublicKeys struct {
}

// GetPublicKeysReply holds the public keys of the runtime.
type GetPublicKeysReply struct {
	Encryption kyber.Point
	Signing    kyber.Point
}

// VerifyInput sends a freshly created input to the runtime. If the proof
// of the input holds for the binding, the ciphertext is stored and an input
// proof is returned.
type VerifyInput struct {
	ChainID   uint64
	Contract  []byte
	Recipient []byte
	Primitive int
	U         kyber.Point
	C         kyber.Point
	Ubar      kyber.Point
	E         kyber.Scalar
	F         kyber.Scalar
}

// VerifyInputReply is the handle of the stored input and the proof to give
// to the ledger contract.
type VerifyInputReply struct {
	Handle []byte
	Proof  []byte
}

// UserDecrypt asks the runtime to re-encrypt a batch of handles to the
// ephemeral key of a signed authorization.
type UserDecrypt struct {
	Handles        [][]byte
	Subject        []byte
	PublicKey      []byte
	Contracts      [][]byte
	ChainID        uint64
	StartTimestamp int64
	DurationDays   int64
	Signature      []byte
}

// UserDecryptReply holds one share per requested handle, in request order.
// If Refused is set, the authorization was not accepted and Shares is
// empty.
type UserDecryptReply struct {
	Refused string
	Shares  []ShareReply
}

// ShareReply is the re-encryption of one handle. Reason is one of the
// fhe.Reason* values; U and C are only meaningful for fhe.ReasonNone.
type ShareReply struct {
	Handle []byte
	U      kyber.Point
	C      kyber.Point
	Reason int
}

// record is how an input is stored by the engine.
type record struct {
	Primitive int
	U         []byte
	C         []byte
	ChainID   uint64
	Contract  []byte
	Recipient []byte
}
