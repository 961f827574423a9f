// Package encrypt turns a plaintext value into an encrypted input for one
// function of a contract. The type of the encryption is taken from the
// declared type of the first parameter of the function, and the input is
// only usable by the recipient on this contract and chain.
package encrypt

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Request is an encrypted input ready to be sent to the contract.
type Request struct {
	Function  string
	Primitive fhe.Primitive
	Handle    fhe.Handle
	Proof     fhe.InputProof
}

func (r *Request) String() string {
	return fmt.Sprintf("%s(%s %s)", r.Function, r.Primitive, r.Handle)
}

// Builder creates encryption requests for one contract.
type Builder struct {
	runtime  fhe.Runtime
	schema   *Schema
	contract common.Address
	chainID  uint64
}

// NewBuilder returns a builder for the contract described by schema.
func NewBuilder(runtime fhe.Runtime, schema *Schema, contract common.Address,
	chainID uint64) *Builder {
	return &Builder{
		runtime:  runtime,
		schema:   schema,
		contract: contract,
		chainID:  chainID,
	}
}

// Primitive returns the encryption type of the first parameter of function.
func (b *Builder) Primitive(function string) (fhe.Primitive, error) {
	f, ok := b.schema.Function(function)
	if !ok {
		return 0, xerrors.Errorf("no function '%s' in the ABI: %w", function,
			cipherscore.ErrMissingSchema)
	}
	if len(f.Inputs) == 0 {
		return 0, xerrors.Errorf("function '%s' has no inputs: %w", function,
			cipherscore.ErrMissingSchema)
	}
	in := f.Inputs[0]
	if in.InternalType == "" {
		return 0, xerrors.Errorf("parameter '%s' of '%s' has no internal type: %w",
			in.Name, function, cipherscore.ErrMissingSchema)
	}
	return fhe.PrimitiveForType(in.InternalType)
}

// Build encrypts value for recipient, to be passed as the first argument of
// function.
func (b *Builder) Build(ctx context.Context, recipient common.Address,
	function string, value uint64) (*Request, error) {
	p, err := b.Primitive(function)
	if err != nil {
		return nil, err
	}
	if !p.Fits(value) {
		return nil, xerrors.Errorf("%d doesn't fit in %s: %w", value, p,
			cipherscore.ErrValueOutOfRange)
	}

	binding := fhe.Binding{
		ChainID:   b.chainID,
		Contract:  b.contract,
		Recipient: recipient,
	}
	h, proof, err := b.runtime.Encrypt(ctx, binding, p, value)
	if err != nil {
		return nil, xerrors.Errorf("encrypting for %s: %v", recipient.Hex(), err)
	}
	req := &Request{
		Function:  function,
		Primitive: p,
		Handle:    h,
		Proof:     proof,
	}
	log.Lvl3("built", req, "for", recipient.Hex())
	return req, nil
}
