package fhe

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/suites"
	"golang.org/x/xerrors"
)

// Share is a value re-encrypted to the ephemeral key of an authorization.
type Share struct {
	U kyber.Point
	C kyber.Point
}

// Reencrypt blinds the embedded value point M with a fresh ephemeral key for
// the reader key Xc.
func Reencrypt(suite suites.Suite, M, Xc kyber.Point) *Share {
	r := suite.Scalar().Pick(suite.RandomStream())
	S := suite.Point().Mul(r, Xc)
	return &Share{
		U: suite.Point().Mul(r, nil),
		C: suite.Point().Add(S, M),
	}
}

// Open recovers the plaintext of the share with the reader secret xc and
// checks it against the primitive of the handle.
func (s *Share) Open(suite suites.Suite, xc kyber.Scalar, p Primitive) (uint64, error) {
	if s == nil || s.U == nil || s.C == nil {
		return 0, xerrors.New("empty share")
	}
	S := suite.Point().Mul(xc, s.U)
	M := suite.Point().Sub(s.C, S)
	v, err := decodeValue(M)
	if err != nil {
		return 0, err
	}
	if !p.Fits(v) {
		return 0, xerrors.Errorf("decrypted value out of range for %s", p)
	}
	return v, nil
}
