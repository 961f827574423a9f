package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"
)

// ErrDeclined is returned when the operator refuses to sign.
var ErrDeclined = xerrors.New("signature declined")

// PromptKind tells what the operator is asked to sign.
type PromptKind int

const (
	// PromptTransaction is a ledger transaction.
	PromptTransaction PromptKind = iota
	// PromptAuthorization is a decryption authorization.
	PromptAuthorization
)

func (k PromptKind) String() string {
	switch k {
	case PromptTransaction:
		return "transaction"
	case PromptAuthorization:
		return "decryption authorization"
	default:
		return "unknown"
	}
}

// Prompt describes a pending signature.
type Prompt struct {
	Kind    PromptKind
	Account common.Address
	Summary string
}

func (p Prompt) String() string {
	return fmt.Sprintf("%s for %s: %s", p.Kind, p.Account.Hex(), p.Summary)
}

// Approver asks the human operator to accept a signature. Approve may block
// for as long as the operator needs; it must return when ctx is done. Any
// error is treated as a refusal.
type Approver interface {
	Approve(ctx context.Context, p Prompt) error
}

// ApproverFunc adapts a function to an Approver.
type ApproverFunc func(ctx context.Context, p Prompt) error

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, p Prompt) error {
	return f(ctx, p)
}

// AutoApprove accepts every prompt.
var AutoApprove = ApproverFunc(func(ctx context.Context, p Prompt) error {
	return ctx.Err()
})

// Decline refuses every prompt.
var Decline = ApproverFunc(func(ctx context.Context, p Prompt) error {
	return ErrDeclined
})
