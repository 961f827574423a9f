package fhe

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/kyber/v3/xof/keccak"
	"golang.org/x/xerrors"
)

// valueLength is the size of the plaintext embedded into a point.
const valueLength = 8

// Binding is the context a ciphertext is created for. Only Recipient may
// decrypt the value, and only through Contract on chain ChainID.
type Binding struct {
	ChainID   uint64
	Contract  common.Address
	Recipient common.Address
}

func (b Binding) bytes() []byte {
	buf := make([]byte, 8, 8+2*common.AddressLength)
	binary.BigEndian.PutUint64(buf, b.ChainID)
	buf = append(buf, b.Contract.Bytes()...)
	return append(buf, b.Recipient.Bytes()...)
}

// Input is an ElGamal encryption of a value under the runtime key X, with a
// proof of knowledge of the ephemeral key that is tied to a Binding. The
// proof makes sure the ciphertext has not been copied from somebody else's
// history: it only verifies for the binding it was created with.
type Input struct {
	Primitive Primitive
	// U is the ephemeral public key, C the blinded value.
	U kyber.Point
	C kyber.Point
	// Ubar, E and F form the proof.
	Ubar kyber.Point
	E    kyber.Scalar
	F    kyber.Scalar
}

// NewInput encrypts value under X for the given binding.
func NewInput(suite suites.Suite, X kyber.Point, b Binding, p Primitive,
	value uint64) (*Input, error) {
	if !p.Supported() {
		return nil, xerrors.Errorf("cannot encrypt %s", p)
	}
	if !p.Fits(value) {
		return nil, xerrors.Errorf("value %d does not fit into %s", value, p)
	}

	in := &Input{Primitive: p}
	r := suite.Scalar().Pick(suite.RandomStream())
	C := suite.Point().Mul(r, X)
	in.U = suite.Point().Mul(r, nil)

	M := suite.Point().Embed(encodeValue(value), suite.RandomStream())
	in.C = suite.Point().Add(C, M)

	gBar := bindingGenerator(suite, b, p)
	in.Ubar = suite.Point().Mul(r, gBar)
	s := suite.Scalar().Pick(suite.RandomStream())
	w := suite.Point().Mul(s, nil)
	wBar := suite.Point().Mul(s, gBar)

	in.E = in.challenge(suite, b, w, wBar)
	in.F = suite.Scalar().Add(s, suite.Scalar().Mul(in.E, r))
	return in, nil
}

// CheckProof verifies that the input has been created for the binding b by
// somebody knowing the ephemeral key.
func (in *Input) CheckProof(suite suites.Suite, b Binding) error {
	if in.U == nil || in.C == nil || in.Ubar == nil || in.E == nil || in.F == nil {
		return xerrors.New("incomplete input")
	}
	gf := suite.Point().Mul(in.F, nil)
	ue := suite.Point().Mul(suite.Scalar().Neg(in.E), in.U)
	w := suite.Point().Add(gf, ue)

	gBar := bindingGenerator(suite, b, in.Primitive)
	gfBar := suite.Point().Mul(in.F, gBar)
	ueBar := suite.Point().Mul(suite.Scalar().Neg(in.E), in.Ubar)
	wBar := suite.Point().Add(gfBar, ueBar)

	e := in.challenge(suite, b, w, wBar)
	if !e.Equal(in.E) {
		return xerrors.New("recreated proof is not equal to the input proof")
	}
	return nil
}

// Handle returns the handle under which the input is stored.
func (in *Input) Handle(b Binding) Handle {
	h := sha256.New()
	in.C.MarshalTo(h)
	in.U.MarshalTo(h)
	in.Ubar.MarshalTo(h)
	in.E.MarshalTo(h)
	in.F.MarshalTo(h)
	h.Write(b.bytes())
	return newHandle(h.Sum(nil), in.Primitive)
}

// Decrypt removes the blinding using the runtime secret x and returns the
// embedded value point.
func (in *Input) Decrypt(suite suites.Suite, x kyber.Scalar) kyber.Point {
	S := suite.Point().Mul(x, in.U)
	return suite.Point().Sub(in.C, S)
}

func (in *Input) challenge(suite suites.Suite, b Binding, w, wBar kyber.Point) kyber.Scalar {
	h := sha256.New()
	in.C.MarshalTo(h)
	in.U.MarshalTo(h)
	in.Ubar.MarshalTo(h)
	w.MarshalTo(h)
	wBar.MarshalTo(h)
	writeBinding(h, b, in.Primitive)
	return suite.Scalar().SetBytes(h.Sum(nil))
}

func bindingGenerator(suite suites.Suite, b Binding, p Primitive) kyber.Point {
	seed := append(b.bytes(), byte(p))
	return suite.Point().Embed(nil, keccak.New(seed))
}

func writeBinding(h hash.Hash, b Binding, p Primitive) {
	h.Write(b.bytes())
	h.Write([]byte{byte(p)})
}

func encodeValue(value uint64) []byte {
	buf := make([]byte, valueLength)
	binary.BigEndian.PutUint64(buf, value)
	return buf
}

func decodeValue(M kyber.Point) (uint64, error) {
	data, err := M.Data()
	if err != nil {
		return 0, xerrors.Errorf("extracting value: %v", err)
	}
	if len(data) != valueLength {
		return 0, xerrors.Errorf("embedded value has %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
