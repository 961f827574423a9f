package fhe

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

const authorizationDomain = "cipherscore user decryption v1"

// signatureLength is the size of a recoverable secp256k1 signature.
const signatureLength = 65

// AuthorizationRequest is the message a subject signs to let the runtime
// re-encrypt its values to PublicKey.
type AuthorizationRequest struct {
	// PublicKey is the marshalled ephemeral point the values are
	// re-encrypted to.
	PublicKey      []byte
	Contracts      []common.Address
	ChainID        uint64
	StartTimestamp int64
	DurationDays   int64
}

// Digest returns the 32-byte hash that the subject signs.
func (r *AuthorizationRequest) Digest() []byte {
	var buf bytes.Buffer
	buf.WriteString(authorizationDomain)
	buf.Write(r.PublicKey)
	for _, c := range r.Contracts {
		buf.Write(c.Bytes())
	}
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], r.ChainID)
	buf.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(r.StartTimestamp))
	buf.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(r.DurationDays))
	buf.Write(num[:])
	return crypto.Keccak256(buf.Bytes())
}

// Start returns the beginning of the validity window.
func (r *AuthorizationRequest) Start() time.Time {
	return time.Unix(r.StartTimestamp, 0)
}

// ExpiresAt returns the end of the validity window.
func (r *AuthorizationRequest) ExpiresAt() time.Time {
	return r.Start().Add(time.Duration(r.DurationDays) * 24 * time.Hour)
}

// ValidAt returns true if now is inside the validity window.
func (r *AuthorizationRequest) ValidAt(now time.Time) bool {
	return !now.Before(r.Start()) && now.Before(r.ExpiresAt())
}

// Covers returns true if the request names the contract on the chain.
func (r *AuthorizationRequest) Covers(contract common.Address, chainID uint64) bool {
	if r.ChainID != chainID {
		return false
	}
	for _, c := range r.Contracts {
		if c == contract {
			return true
		}
	}
	return false
}

// VerifySignature checks that sig has been produced by subject over the
// digest of the request.
func (r *AuthorizationRequest) VerifySignature(subject common.Address, sig []byte) error {
	if len(sig) != signatureLength {
		return xerrors.Errorf("signature must have %d bytes", signatureLength)
	}
	pub, err := crypto.SigToPub(r.Digest(), sig)
	if err != nil {
		return xerrors.Errorf("recovering signer: %v", err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != subject {
		return xerrors.Errorf("signed by %s instead of %s", signer.Hex(),
			subject.Hex())
	}
	return nil
}

// Authorization is a signed AuthorizationRequest together with the secret
// of the ephemeral key. The secret never leaves the client.
type Authorization struct {
	Subject   common.Address
	Request   AuthorizationRequest
	Signature []byte
	Private   kyber.Scalar
}

// ExpiresAt returns the end of the validity window.
func (a *Authorization) ExpiresAt() time.Time {
	return a.Request.ExpiresAt()
}

// ValidAt returns true if the authorization can be used at time now.
func (a *Authorization) ValidAt(now time.Time) bool {
	return a.Request.ValidAt(now)
}
