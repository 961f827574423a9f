// Package simchain is an in-process chain executing the score ledger
// contract. It implements ledger.Backend so that the ledger client, the
// submission state machine and the CLI can run without an Ethereum node.
//
// State is kept in a bbolt bucket: the nonce and history of every account,
// and a compact record of every receipt. There is no EVM, the contract is
// implemented natively and decoded with the contract ABI.
package simchain

import (
	"context"
	"encoding/binary"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// DefaultContract is the address the contract is served at if none is
// given. It is the address of the first deployment of a fresh development
// account.
var DefaultContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// MinGas is the gas a call to recordEncryptedRun needs. Transactions with
// less gas are reverted.
const MinGas = 120000

const (
	gasRecord = 95000
	gasRevert = 60000
)

// GasPrice is returned by SuggestGasPrice.
var GasPrice = big.NewInt(1000000000)

var (
	bucketNonces    = []byte("nonces")
	bucketHistories = []byte("histories")
	bucketReceipts  = []byte("receipts")
	bucketMeta      = []byte("meta")
	keyHeight       = []byte("height")
)

// code is returned by CodeAt for the contract address. bind.WaitDeployed
// only checks that it is not empty.
var code = []byte{0x60, 0x80, 0x60, 0x40, 0x52}

type receiptRecord struct {
	Status  uint64
	GasUsed uint64
	Height  uint64
}

// Chain executes transactions for one contract on one chain id. Every
// transaction is included in its own block as soon as it is sent.
type Chain struct {
	sync.Mutex
	db       *bbolt.DB
	bucket   []byte
	abi      abi.ABI
	chainID  *big.Int
	signer   types.Signer
	contract common.Address
	proofKey kyber.Point
	dropNext int
	hold     bool
	held     map[common.Hash]bool
}

// NewChain opens the chain stored in the bucket of db. proofKey is the
// public signing key of the FHE runtime, used to verify the input proofs
// sent to the contract.
func NewChain(db *bbolt.DB, bucket []byte, chainID uint64,
	contract common.Address, proofKey kyber.Point) (*Chain, error) {
	contractAbi, err := abi.JSON(strings.NewReader(ledger.ScoreLedgerABI))
	if err != nil {
		return nil, xerrors.Errorf("decoding contract ABI: %v", err)
	}
	id := new(big.Int).SetUint64(chainID)
	c := &Chain{
		db:       db,
		bucket:   bucket,
		abi:      contractAbi,
		chainID:  id,
		signer:   types.NewEIP155Signer(id),
		contract: contract,
		proofKey: proofKey,
		held:     make(map[common.Hash]bool),
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketNonces, bucketHistories,
			bucketReceipts, bucketMeta} {
			if _, err := b.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("creating buckets: %v", err)
	}
	return c, nil
}

// Contract returns the address of the score ledger contract.
func (c *Chain) Contract() common.Address {
	return c.contract
}

// ChainID returns the id used for EIP-155 signatures.
func (c *Chain) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Height returns the number of the last block.
func (c *Chain) Height() (h uint64) {
	c.db.View(func(tx *bbolt.Tx) error {
		h = readUint(c.sub(tx, bucketMeta).Get(keyHeight))
		return nil
	})
	return
}

// DropNext makes the next n calls to SendTransaction fail as if the
// network lost the transaction.
func (c *Chain) DropNext(n int) {
	c.Lock()
	defer c.Unlock()
	c.dropNext = n
}

// Hold hides the receipts of the transactions sent from now on. The
// transactions are still executed.
func (c *Chain) Hold() {
	c.Lock()
	defer c.Unlock()
	c.hold = true
}

// Release makes all hidden receipts visible and stops holding.
func (c *Chain) Release() {
	c.Lock()
	defer c.Unlock()
	c.hold = false
	c.held = make(map[common.Hash]bool)
}

// CodeAt returns a non-empty code for the contract and nothing for other
// accounts.
func (c *Chain) CodeAt(ctx context.Context, account common.Address,
	blockNumber *big.Int) ([]byte, error) {
	if account == c.contract {
		return code, nil
	}
	return nil, nil
}

// TransactionReceipt returns the receipt of an executed transaction, or
// ethereum.NotFound if it is unknown or held back.
func (c *Chain) TransactionReceipt(ctx context.Context,
	txHash common.Hash) (*types.Receipt, error) {
	c.Lock()
	held := c.held[txHash]
	c.Unlock()
	if held {
		return nil, ethereum.NotFound
	}

	var rec *receiptRecord
	err := c.db.View(func(tx *bbolt.Tx) error {
		buf := c.sub(tx, bucketReceipts).Get(txHash[:])
		if buf == nil {
			return nil
		}
		rec = &receiptRecord{}
		return protobuf.Decode(buf, rec)
	})
	if err != nil {
		return nil, xerrors.Errorf("reading receipt: %v", err)
	}
	if rec == nil {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		Status:            rec.Status,
		TxHash:            txHash,
		GasUsed:           rec.GasUsed,
		CumulativeGasUsed: rec.GasUsed,
		Logs:              []*types.Log{},
	}, nil
}

// PendingNonceAt returns the next nonce of the account.
func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (n uint64, err error) {
	err = c.db.View(func(tx *bbolt.Tx) error {
		n = readUint(c.sub(tx, bucketNonces).Get(account[:]))
		return nil
	})
	return
}

// SuggestGasPrice returns GasPrice.
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(GasPrice), nil
}

// SendTransaction verifies the signature and the nonce of the transaction
// and executes it in a new block. A failing call still consumes the nonce
// and gets a receipt with a failed status.
func (c *Chain) SendTransaction(ctx context.Context, signed *types.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Lock()
	defer c.Unlock()
	if c.dropNext > 0 {
		c.dropNext--
		log.Lvl2("dropping transaction", signed.Hash().Hex())
		return xerrors.New("transaction dropped by the network")
	}

	if signed.ChainId().Cmp(c.chainID) != 0 {
		return xerrors.Errorf("wrong chain id %s", signed.ChainId())
	}
	from, err := types.Sender(c.signer, signed)
	if err != nil {
		return xerrors.Errorf("invalid sender: %v", err)
	}
	if signed.To() == nil || *signed.To() != c.contract {
		return xerrors.New("only calls to the score ledger are supported")
	}

	hash := signed.Hash()
	err = c.db.Update(func(tx *bbolt.Tx) error {
		nonces := c.sub(tx, bucketNonces)
		nonce := readUint(nonces.Get(from[:]))
		if signed.Nonce() != nonce {
			return xerrors.Errorf("nonce %d of %s, expected %d",
				signed.Nonce(), from.Hex(), nonce)
		}
		if c.sub(tx, bucketReceipts).Get(hash[:]) != nil {
			return xerrors.New("known transaction")
		}

		rec := receiptRecord{Status: types.ReceiptStatusSuccessful,
			GasUsed: gasRecord}
		if err := c.record(tx, from, signed); err != nil {
			log.Lvl2("reverted", hash.Hex(), ":", err)
			rec.Status = types.ReceiptStatusFailed
			rec.GasUsed = gasRevert
			if signed.Gas() < rec.GasUsed {
				rec.GasUsed = signed.Gas()
			}
		}

		meta := c.sub(tx, bucketMeta)
		rec.Height = readUint(meta.Get(keyHeight)) + 1
		if err := meta.Put(keyHeight, writeUint(rec.Height)); err != nil {
			return err
		}
		if err := nonces.Put(from[:], writeUint(nonce+1)); err != nil {
			return err
		}
		buf, err := protobuf.Encode(&rec)
		if err != nil {
			return err
		}
		return c.sub(tx, bucketReceipts).Put(hash[:], buf)
	})
	if err != nil {
		return err
	}
	if c.hold {
		c.held[hash] = true
	}
	log.Lvl3("included", hash.Hex(), "from", from.Hex())
	return nil
}

// record executes recordEncryptedRun. An error reverts the call.
func (c *Chain) record(tx *bbolt.Tx, from common.Address, signed *types.Transaction) error {
	if signed.Gas() < MinGas {
		return xerrors.Errorf("out of gas: %d < %d", signed.Gas(), MinGas)
	}
	method, args, err := c.decode(signed.Data())
	if err != nil {
		return err
	}
	if method.Name != ledger.MethodRecord {
		return xerrors.Errorf("method '%s' is a view", method.Name)
	}
	handle := fhe.Handle(args[0].([32]byte))
	proof := fhe.InputProof(args[1].([]byte))
	if handle.Primitive() != fhe.Uint32 {
		return xerrors.Errorf("handle of type %s instead of %s",
			handle.Primitive(), fhe.Uint32)
	}
	b := fhe.Binding{
		ChainID:   c.chainID.Uint64(),
		Contract:  c.contract,
		Recipient: from,
	}
	if err := proof.Verify(cipherscore.Suite, c.proofKey, handle, b); err != nil {
		return err
	}
	histories := c.sub(tx, bucketHistories)
	old := histories.Get(from[:])
	list := make([]byte, len(old), len(old)+fhe.HandleLength)
	copy(list, old)
	return histories.Put(from[:], append(list, handle[:]...))
}

// CallContract executes one of the view methods.
func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg,
	blockNumber *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.To == nil || *call.To != c.contract {
		return nil, nil
	}
	method, args, err := c.decode(call.Data)
	if err != nil {
		return nil, err
	}

	var handles [][32]byte
	if method.Name == ledger.MethodHistory || method.Name == ledger.MethodHasData {
		player := args[0].(common.Address)
		err = c.db.View(func(tx *bbolt.Tx) error {
			buf := c.sub(tx, bucketHistories).Get(player[:])
			handles = make([][32]byte, len(buf)/fhe.HandleLength)
			for i := range handles {
				copy(handles[i][:], buf[i*fhe.HandleLength:])
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	switch method.Name {
	case ledger.MethodHistory:
		return method.Outputs.Pack(handles)
	case ledger.MethodHasData:
		return method.Outputs.Pack(len(handles) > 0)
	default:
		return nil, xerrors.Errorf("method '%s' is not a view", method.Name)
	}
}

func (c *Chain) decode(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, xerrors.New("missing method id")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.UnpackValues(data[4:])
	if err != nil {
		return nil, nil, xerrors.Errorf("unpacking arguments of '%s': %v",
			method.Name, err)
	}
	return method, args, nil
}

func (c *Chain) sub(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	b := tx.Bucket(c.bucket)
	if b == nil {
		panic("chain bucket does not exist")
	}
	return b.Bucket(name)
}

func readUint(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}

func writeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
