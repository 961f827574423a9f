// Package submit runs the submission of one encrypted score: encrypt the
// value for the player, sign and send the transaction, wait for its
// confirmation and read back the history. One Machine serves one player and
// runs one submission at a time.
package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	uuid "github.com/satori/go.uuid"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/encrypt"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// DefaultConfirmTimeout bounds the wait for the confirmation of a
// transaction.
const DefaultConfirmTimeout = 2 * time.Minute

// Ledger is the part of the ledger client used by the machine.
type Ledger interface {
	Send(ctx context.Context, signer ledger.Signer, h fhe.Handle,
		proof fhe.InputProof) (*types.Transaction, error)
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	FetchHistory(ctx context.Context, player common.Address) ([]fhe.Handle, error)
}

// Encrypter creates encrypted inputs.
type Encrypter interface {
	Build(ctx context.Context, recipient common.Address, function string,
		value uint64) (*encrypt.Request, error)
}

// Outcome describes a successful submission.
type Outcome struct {
	Attempt uuid.UUID
	Value   uint64
	Handle  fhe.Handle
	TxHash  common.Hash
	Receipt *types.Receipt
	// History is the list of handles of the player after the submission.
	History []fhe.Handle
}

// Machine submits the scores of one player.
type Machine struct {
	// ConfirmTimeout bounds the wait for the confirmation. After it the
	// submission fails with ErrTimeout, though the transaction might still
	// be included.
	ConfirmTimeout time.Duration
	// Function is the contract method receiving the encrypted value.
	Function string

	ledger    Ledger
	encrypter Encrypter
	signer    ledger.Signer

	sync.Mutex
	status    Status
	observers []func(Status)
}

// NewMachine returns an idle machine submitting for the account of signer.
func NewMachine(l Ledger, e Encrypter, signer ledger.Signer) *Machine {
	return &Machine{
		ConfirmTimeout: DefaultConfirmTimeout,
		Function:       ledger.MethodRecord,
		ledger:         l,
		encrypter:      e,
		signer:         signer,
	}
}

// Account returns the player the machine submits for.
func (m *Machine) Account() common.Address {
	return m.signer.Account()
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.Lock()
	defer m.Unlock()
	return m.status
}

// Subscribe registers f to be called with every new status.
func (m *Machine) Subscribe(f func(Status)) {
	m.Lock()
	defer m.Unlock()
	m.observers = append(m.observers, f)
}

// Reset clears the message of an idle machine. It returns false if a
// submission is running.
func (m *Machine) Reset() bool {
	m.Lock()
	if m.status.State != Idle {
		m.Unlock()
		return false
	}
	m.status = Status{}
	m.Unlock()
	m.notify(Status{})
	return true
}

// Submit encrypts value and appends it to the history of the player. If a
// submission is already running, ErrInFlight is returned and nothing
// happens.
func (m *Machine) Submit(ctx context.Context, value uint64) (*Outcome, error) {
	out := &Outcome{Attempt: uuid.NewV4(), Value: value}
	err := m.move(Encrypting, Status{
		Attempt: out.Attempt,
		Message: fmt.Sprintf("Encrypting and submitting score (%d)...", value),
	})
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, cipherscore.ErrInFlight)
	}
	log.Lvlf2("%s: submitting %d for %s", out.Attempt, value, m.Account().Hex())

	req, err := m.encrypter.Build(ctx, m.Account(), m.Function, value)
	if err != nil {
		return nil, m.fail(out, err)
	}
	out.Handle = req.Handle

	if err := m.move(Signing, Status{Attempt: out.Attempt,
		Message: "Waiting for the wallet to sign the transaction..."}); err != nil {
		return nil, m.fail(out, err)
	}
	tx, err := m.ledger.Send(ctx, m.signer, req.Handle, req.Proof)
	if err != nil {
		return nil, m.fail(out, err)
	}
	out.TxHash = tx.Hash()
	log.Lvlf3("%s: sent %s", out.Attempt, out.TxHash.Hex())

	if err := m.move(AwaitingConfirmation, Status{Attempt: out.Attempt,
		Message: "Waiting for transaction confirmation..."}); err != nil {
		return nil, m.fail(out, err)
	}
	cctx := ctx
	if m.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, m.ConfirmTimeout)
		defer cancel()
	}
	out.Receipt, err = m.ledger.Confirm(cctx, tx)
	if err != nil {
		return nil, m.fail(out, err)
	}

	if err := m.move(Refreshing, Status{Attempt: out.Attempt,
		Message: "Refreshing the history..."}); err != nil {
		return nil, m.fail(out, err)
	}
	out.History, err = m.ledger.FetchHistory(ctx, m.Account())
	if err != nil {
		return nil, m.fail(out, xerrors.Errorf("refreshing history: %v", err))
	}

	err = m.move(Idle, Status{Attempt: out.Attempt,
		Message: fmt.Sprintf("Encrypted score (%d) recorded!", value)})
	if err != nil {
		return nil, m.fail(out, err)
	}
	log.Lvlf2("%s: recorded %s", out.Attempt, out.Handle)
	return out, nil
}

// fail tags err with the current step, reports it through the Failed state
// and goes back to Idle, keeping the failure in the status.
func (m *Machine) fail(out *Outcome, err error) error {
	step := m.Status().State
	err = cipherscore.StepError(step.String(), err)
	st := Status{
		Attempt:      out.Attempt,
		Err:          err,
		RetrySafe:    cipherscore.RetrySafe(err),
		Inconclusive: cipherscore.Inconclusive(err),
	}
	switch {
	case step == Refreshing:
		st.Message = fmt.Sprintf("Encrypted score (%d) recorded in %s, "+
			"refreshing the history failed: %v", out.Value, out.TxHash.Hex(), err)
	case st.Inconclusive:
		st.Message = fmt.Sprintf("%s() not confirmed yet: %v. Check the "+
			"history before trying again.", m.Function, err)
	case st.RetrySafe:
		st.Message = fmt.Sprintf("%s() failed: %v. Nothing was recorded, "+
			"you can try again.", m.Function, err)
	default:
		st.Message = fmt.Sprintf("%s() failed: %v", m.Function, err)
	}
	log.Lvlf2("%s: %s", out.Attempt, st.Message)
	if terr := m.move(Failed, st); terr != nil {
		log.Error(terr)
	}
	if terr := m.move(Idle, st); terr != nil {
		log.Error(terr)
	}
	return err
}

// move enters state to with the given status, if the transition is
// allowed.
func (m *Machine) move(to State, st Status) error {
	m.Lock()
	if err := checkTransition(m.status.State, to); err != nil {
		m.Unlock()
		return err
	}
	st.State = to
	m.status = st
	m.Unlock()
	m.notify(st)
	return nil
}

func (m *Machine) notify(st Status) {
	m.Lock()
	observers := append([]func(Status){}, m.observers...)
	m.Unlock()
	for _, f := range observers {
		f(st)
	}
}
