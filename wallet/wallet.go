package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Wallet holds one account and signs on its behalf once the approver agreed.
type Wallet struct {
	Address  common.Address
	key      *ecdsa.PrivateKey
	approver Approver
}

// New returns a wallet for the given key.
func New(key *ecdsa.PrivateKey, approver Approver) *Wallet {
	if approver == nil {
		approver = AutoApprove
	}
	return &Wallet{
		Address:  crypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		approver: approver,
	}
}

// Generate creates a wallet with a fresh key.
func Generate(approver Approver) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Errorf("generating key: %v", err)
	}
	return New(key, approver), nil
}

// FromHex creates a wallet from a hex-encoded private key.
func FromHex(privateKey string, approver Approver) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode private key: %v", err)
	}
	return New(key, approver), nil
}

// Account returns the address of the wallet.
func (w *Wallet) Account() common.Address {
	return w.Address
}

// PrivateHex returns the hex-encoded private key, to be stored by the CLI.
func (w *Wallet) PrivateHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(w.key))
}

func (w *Wallet) String() string {
	return fmt.Sprintf("Wallet[%s]", w.Address.Hex())
}

// SignTx asks for approval and signs the transaction for chainID.
func (w *Wallet) SignTx(ctx context.Context, tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	err := w.approve(ctx, Prompt{
		Kind:    PromptTransaction,
		Account: w.Address,
		Summary: fmt.Sprintf("nonce %d to %s, gas %d", tx.Nonce(), to, tx.Gas()),
	})
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), w.key)
	if err != nil {
		return nil, xerrors.Errorf("signing transaction: %v", err)
	}
	return signed, nil
}

// SignAuthorization asks for approval and signs the digest of req.
func (w *Wallet) SignAuthorization(ctx context.Context,
	req *fhe.AuthorizationRequest) ([]byte, error) {
	err := w.approve(ctx, Prompt{
		Kind:    PromptAuthorization,
		Account: w.Address,
		Summary: fmt.Sprintf("decrypt on chain %d for %d contract(s) until %s",
			req.ChainID, len(req.Contracts), req.ExpiresAt().Format("2006-01-02")),
	})
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(req.Digest(), w.key)
	if err != nil {
		return nil, xerrors.Errorf("signing authorization: %v", err)
	}
	return sig, nil
}

func (w *Wallet) approve(ctx context.Context, p Prompt) error {
	log.Lvl3("asking for approval of", p)
	if err := w.approver.Approve(ctx, p); err != nil {
		log.Lvl2("approval refused:", err)
		if xerrors.Is(err, ErrDeclined) {
			return err
		}
		return xerrors.Errorf("%v: %w", err, ErrDeclined)
	}
	return nil
}
