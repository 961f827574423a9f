package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Backend is the part of an Ethereum node the client needs. It is
// implemented by ethclient.Client and by simchain.Chain.
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg,
		blockNumber *big.Int) ([]byte, error)
}

// Signer signs transactions for one account. The signature may need the
// approval of a human and can be declined.
type Signer interface {
	Account() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Client reads and appends the per-player handle lists of a score ledger
// contract. There is no way to change or remove an entry.
type Client struct {
	backend  Backend
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	GasLimit uint64
}

// NewClient returns a client for the contract at address on chain chainID.
func NewClient(backend Backend, address common.Address, chainID uint64) (*Client, error) {
	contractAbi, err := abi.JSON(strings.NewReader(ScoreLedgerABI))
	if err != nil {
		return nil, xerrors.Errorf("failed to decode JSON for "+
			"contract ABI: %v", err)
	}
	return &Client{
		backend:  backend,
		abi:      contractAbi,
		address:  address,
		chainID:  new(big.Int).SetUint64(chainID),
		GasLimit: DefaultGasLimit,
	}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("Ledger[%s@%s]", c.address.Hex(), c.chainID)
}

// Address returns the address of the contract.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the chain the contract lives on.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Schema returns the ABI of the contract, including the internal types.
func (c *Client) Schema() string {
	return ScoreLedgerABI
}

// Append sends the handle with its proof and waits for the confirmation.
func (c *Client) Append(ctx context.Context, signer Signer, h fhe.Handle,
	proof fhe.InputProof) (*types.Receipt, error) {
	tx, err := c.Send(ctx, signer, h, proof)
	if err != nil {
		return nil, err
	}
	return c.Confirm(ctx, tx)
}

// Send signs and broadcasts the append transaction without waiting for it
// to be included.
func (c *Client) Send(ctx context.Context, signer Signer, h fhe.Handle,
	proof fhe.InputProof) (*types.Transaction, error) {
	log.Lvlf2(">>> EVM method '%s()' on %s", MethodRecord, c)
	defer log.Lvlf2("<<< EVM method '%s()' on %s", MethodRecord, c)

	callData, err := c.abi.Pack(MethodRecord, [32]byte(h), []byte(proof))
	if err != nil {
		return nil, xerrors.Errorf("failed to pack arguments for contract "+
			"method '%s': %v", MethodRecord, err)
	}

	from := signer.Account()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, xerrors.Errorf("getting nonce of %s (%v): %w", from.Hex(),
			err, cipherscore.ErrSubmissionRejected)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Errorf("getting gas price (%v): %w", err,
			cipherscore.ErrSubmissionRejected)
	}

	tx := types.NewTransaction(nonce, c.address, big.NewInt(0), c.GasLimit,
		gasPrice, callData)
	signed, err := signer.SignTx(ctx, tx, c.chainID)
	if err != nil {
		return nil, xerrors.Errorf("signing (%v): %w", err,
			cipherscore.ErrSubmissionRejected)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Errorf("sending transaction (%v): %w", err,
			cipherscore.ErrSubmissionRejected)
	}
	log.Lvl3("sent", signed.Hash().Hex(), "for", from.Hex())
	return signed, nil
}

// Confirm waits until the transaction is included. If ctx ends first,
// ErrTimeout is returned: the transaction may still be included later.
func (c *Client) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Errorf("transaction %s (%v): %w",
				tx.Hash().Hex(), err, cipherscore.ErrTimeout)
		}
		return nil, xerrors.Errorf("waiting for %s: %v", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, xerrors.Errorf("transaction %s reverted: %w",
			tx.Hash().Hex(), cipherscore.ErrSubmissionRejected)
	}
	return receipt, nil
}

// FetchHistory returns the handles appended for player, oldest first. Any
// address can be read.
func (c *Client) FetchHistory(ctx context.Context, player common.Address) ([]fhe.Handle, error) {
	var out [][32]byte
	if err := c.call(ctx, &out, MethodHistory, player); err != nil {
		return nil, err
	}
	handles := make([]fhe.Handle, len(out))
	for i, h := range out {
		handles[i] = fhe.Handle(h)
	}
	return handles, nil
}

// HasEncryptedData returns true if player appended at least one handle.
func (c *Client) HasEncryptedData(ctx context.Context, player common.Address) (bool, error) {
	var has bool
	if err := c.call(ctx, &has, MethodHasData, player); err != nil {
		return false, err
	}
	return has, nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string,
	args ...interface{}) error {
	log.Lvlf3("EVM view method '%s()' on %s", method, c)
	callData, err := c.abi.Pack(method, args...)
	if err != nil {
		return xerrors.Errorf("failed to pack arguments for contract "+
			"method '%s': %v", method, err)
	}
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: callData,
	}, nil)
	if err != nil {
		return xerrors.Errorf("calling '%s': %v", method, err)
	}
	if err := c.abi.Unpack(result, method, ret); err != nil {
		return xerrors.Errorf("failed to unpack result of '%s': %v", method, err)
	}
	return nil
}
