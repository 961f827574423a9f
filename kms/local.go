package kms

import (
	"context"

	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
)

// Local is an in-process fhe.Runtime on top of an Engine.
type Local struct {
	engine *Engine
}

// NewLocal returns a runtime using the engine directly.
func NewLocal(e *Engine) *Local {
	return &Local{engine: e}
}

// PublicKeys returns the keys of the engine.
func (l *Local) PublicKeys(ctx context.Context) (*fhe.PublicKeys, error) {
	return l.engine.PublicKeys(), nil
}

// Encrypt creates and registers an input.
func (l *Local) Encrypt(ctx context.Context, b fhe.Binding, p fhe.Primitive,
	value uint64) (fhe.Handle, fhe.InputProof, error) {
	if err := ctx.Err(); err != nil {
		return fhe.Handle{}, nil, err
	}
	in, err := fhe.NewInput(cipherscore.Suite, l.engine.enc.Public, b, p, value)
	if err != nil {
		return fhe.Handle{}, nil, err
	}
	return l.engine.VerifyInput(b, in)
}

// UserDecrypt re-encrypts the handles for the authorization.
func (l *Local) UserDecrypt(ctx context.Context, handles []fhe.Handle,
	auth *fhe.Authorization) ([]fhe.ShareResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.engine.UserDecrypt(handles, auth.Subject, &auth.Request,
		auth.Signature)
}

var _ fhe.Runtime = (*Local)(nil)
