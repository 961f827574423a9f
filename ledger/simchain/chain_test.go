package simchain

import (
	"context"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	bbolt "go.etcd.io/bbolt"
)

const testChain = 31337

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type fixture struct {
	dir   string
	db    *bbolt.DB
	chain *Chain
	kp    *key.Pair
}

func newFixture(t *testing.T) *fixture {
	dir, err := ioutil.TempDir("", "simchain")
	require.NoError(t, err)
	f := &fixture{dir: dir, kp: key.NewKeyPair(cipherscore.Suite)}
	f.reopen(t)
	return f
}

func (f *fixture) reopen(t *testing.T) {
	if f.db != nil {
		require.NoError(t, f.db.Close())
	}
	var err error
	f.db, err = bbolt.Open(filepath.Join(f.dir, "chain.db"), 0600, nil)
	require.NoError(t, err)
	f.chain, err = NewChain(f.db, []byte("chain"), testChain, DefaultContract,
		f.kp.Public)
	require.NoError(t, err)
}

func (f *fixture) Close() {
	f.db.Close()
	os.RemoveAll(f.dir)
}

// input returns a handle with a valid proof for the sender, signed the way
// the runtime does.
func (f *fixture) input(t *testing.T, sender common.Address, seed byte) ([32]byte, []byte) {
	var h fhe.Handle
	h[0] = seed
	h[30] = byte(fhe.Uint32)
	proof, err := fhe.SignInputProof(cipherscore.Suite, f.kp.Private, h,
		fhe.Binding{ChainID: testChain, Contract: DefaultContract, Recipient: sender})
	require.NoError(t, err)
	return h, proof
}

func (f *fixture) tx(t *testing.T, nonce uint64, data []byte) *types.Transaction {
	return types.NewTransaction(nonce, DefaultContract, big.NewInt(0),
		ledger.DefaultGasLimit, GasPrice, data)
}

func (f *fixture) history(t *testing.T, player common.Address) [][32]byte {
	ret, err := f.chain.CallContract(context.Background(), ethereum.CallMsg{
		To:   &DefaultContract,
		Data: pack(t, f.chain, ledger.MethodHistory, player),
	}, nil)
	require.NoError(t, err)
	var out [][32]byte
	require.NoError(t, f.chain.abi.Unpack(&out, ledger.MethodHistory, ret))
	return out
}

func pack(t *testing.T, c *Chain, method string, args ...interface{}) []byte {
	data, err := c.abi.Pack(method, args...)
	require.NoError(t, err)
	return data
}

func TestChain_Record(t *testing.T) {
	f := newFixture(t)
	defer f.Close()
	ctx := context.Background()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(priv.PublicKey)
	signer := types.NewEIP155Signer(big.NewInt(testChain))

	code, err := f.chain.CodeAt(ctx, DefaultContract, nil)
	require.NoError(t, err)
	require.NotEmpty(t, code)
	code, err = f.chain.CodeAt(ctx, sender, nil)
	require.NoError(t, err)
	require.Empty(t, code)

	h, proof := f.input(t, sender, 1)
	tx, err := types.SignTx(f.tx(t, 0, pack(t, f.chain, ledger.MethodRecord, h, proof)),
		signer, priv)
	require.NoError(t, err)
	require.NoError(t, f.chain.SendTransaction(ctx, tx))

	receipt, err := f.chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, [][32]byte{h}, f.history(t, sender))

	// Replaying the same transaction fails on the nonce.
	require.Error(t, f.chain.SendTransaction(ctx, tx))
	nonce, err := f.chain.PendingNonceAt(ctx, sender)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	// Everything survives a restart.
	f.reopen(t)
	require.Equal(t, [][32]byte{h}, f.history(t, sender))
	receipt, err = f.chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, uint64(1), f.chain.Height())
}

func TestChain_Revert(t *testing.T) {
	f := newFixture(t)
	defer f.Close()
	ctx := context.Background()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(priv.PublicKey)
	signer := types.NewEIP155Signer(big.NewInt(testChain))

	// A handle of another type than euint32.
	h, proof := f.input(t, sender, 2)
	h[30] = byte(fhe.Uint64)
	tx, err := types.SignTx(f.tx(t, 0, pack(t, f.chain, ledger.MethodRecord, h, proof)),
		signer, priv)
	require.NoError(t, err)
	require.NoError(t, f.chain.SendTransaction(ctx, tx))
	receipt, err := f.chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusFailed, receipt.Status)

	// Calling a view in a transaction reverts.
	tx, err = types.SignTx(f.tx(t, 1, pack(t, f.chain, ledger.MethodHasData, sender)),
		signer, priv)
	require.NoError(t, err)
	require.NoError(t, f.chain.SendTransaction(ctx, tx))
	receipt, err = f.chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	require.Empty(t, f.history(t, sender))
}

func TestChain_WrongChain(t *testing.T) {
	f := newFixture(t)
	defer f.Close()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(priv.PublicKey)

	h, proof := f.input(t, sender, 3)
	tx, err := types.SignTx(f.tx(t, 0, pack(t, f.chain, ledger.MethodRecord, h, proof)),
		types.NewEIP155Signer(big.NewInt(1)), priv)
	require.NoError(t, err)
	require.Error(t, f.chain.SendTransaction(context.Background(), tx))
	_, err = f.chain.TransactionReceipt(context.Background(), tx.Hash())
	require.Equal(t, ethereum.NotFound, err)
}

func TestChain_Hold(t *testing.T) {
	f := newFixture(t)
	defer f.Close()
	ctx := context.Background()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(priv.PublicKey)

	f.chain.Hold()
	h, proof := f.input(t, sender, 4)
	tx, err := types.SignTx(f.tx(t, 0, pack(t, f.chain, ledger.MethodRecord, h, proof)),
		types.NewEIP155Signer(big.NewInt(testChain)), priv)
	require.NoError(t, err)
	require.NoError(t, f.chain.SendTransaction(ctx, tx))
	_, err = f.chain.TransactionReceipt(ctx, tx.Hash())
	require.Equal(t, ethereum.NotFound, err)
	require.Equal(t, [][32]byte{h}, f.history(t, sender))

	f.chain.Release()
	receipt, err := f.chain.TransactionReceipt(ctx, tx.Hash())
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}
