package encrypt

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/kms"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/onet/v3/log"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice        = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	bob          = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

const testChain = 31337

const multiABI = `[
  {"type": "function", "name": "setFlag", "inputs": [
    {"name": "flag", "type": "bytes32", "internalType": "externalEbool"},
    {"name": "proof", "type": "bytes", "internalType": "bytes"}]},
  {"type": "function", "name": "setSmall", "inputs": [
    {"name": "v", "type": "bytes32", "internalType": "externalEuint8"}]},
  {"type": "function", "name": "setBig", "inputs": [
    {"name": "v", "type": "bytes32", "internalType": "externalEuint256"}]},
  {"type": "function", "name": "setPlain", "inputs": [
    {"name": "v", "type": "uint256", "internalType": "uint256"}]},
  {"type": "function", "name": "setOld", "inputs": [
    {"name": "v", "type": "bytes32"}]},
  {"type": "function", "name": "reset", "inputs": []},
  {"type": "event", "name": "Recorded", "inputs": []}
]`

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func newTestBuilder(t *testing.T, abiJSON string) (*Builder, *kms.Engine, func()) {
	dir, err := ioutil.TempDir("", "encrypt")
	require.NoError(t, err)
	db, err := bbolt.Open(filepath.Join(dir, "kms.db"), 0600, nil)
	require.NoError(t, err)
	e, err := kms.NewEngine(db, []byte("kms"))
	require.NoError(t, err)
	schema, err := ParseSchema(abiJSON)
	require.NoError(t, err)
	return NewBuilder(kms.NewLocal(e), schema, testContract, testChain), e, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema(ledger.ScoreLedgerABI)
	require.NoError(t, err)
	f, ok := s.Function(ledger.MethodRecord)
	require.True(t, ok)
	require.Equal(t, "externalEuint32", f.Inputs[0].InternalType)

	s, err = ParseSchema(multiABI)
	require.NoError(t, err)
	_, ok = s.Function("Recorded")
	require.False(t, ok)

	_, err = ParseSchema("{not json")
	require.Error(t, err)
}

func TestBuilder_Build(t *testing.T) {
	b, e, cleanup := newTestBuilder(t, ledger.ScoreLedgerABI)
	defer cleanup()

	for _, v := range []uint64{0, 2048, math.MaxUint32} {
		req, err := b.Build(context.Background(), alice, ledger.MethodRecord, v)
		require.NoError(t, err)
		require.Equal(t, fhe.Uint32, req.Primitive)
		require.Equal(t, fhe.Uint32, req.Handle.Primitive())

		// The proof is only valid for the recipient it was built for.
		bind := fhe.Binding{ChainID: testChain, Contract: testContract, Recipient: alice}
		require.NoError(t, req.Proof.Verify(cipherscore.Suite,
			e.PublicKeys().Signing, req.Handle, bind))
		bind.Recipient = bob
		require.Error(t, req.Proof.Verify(cipherscore.Suite,
			e.PublicKeys().Signing, req.Handle, bind))
	}

	_, err := b.Build(context.Background(), alice, ledger.MethodRecord,
		math.MaxUint32+1)
	require.True(t, xerrors.Is(err, cipherscore.ErrValueOutOfRange))
}

func TestBuilder_Distinct(t *testing.T) {
	b, _, cleanup := newTestBuilder(t, ledger.ScoreLedgerABI)
	defer cleanup()

	r1, err := b.Build(context.Background(), alice, ledger.MethodRecord, 512)
	require.NoError(t, err)
	r2, err := b.Build(context.Background(), alice, ledger.MethodRecord, 512)
	require.NoError(t, err)
	require.NotEqual(t, r1.Handle, r2.Handle)
}

func TestBuilder_Schema(t *testing.T) {
	b, _, cleanup := newTestBuilder(t, multiABI)
	defer cleanup()
	ctx := context.Background()

	req, err := b.Build(ctx, alice, "setFlag", 1)
	require.NoError(t, err)
	require.Equal(t, fhe.Bool, req.Primitive)
	_, err = b.Build(ctx, alice, "setFlag", 2)
	require.True(t, xerrors.Is(err, cipherscore.ErrValueOutOfRange))

	req, err = b.Build(ctx, alice, "setSmall", 255)
	require.NoError(t, err)
	require.Equal(t, fhe.Uint8, req.Primitive)

	for _, f := range []string{"setBig", "setPlain"} {
		_, err = b.Build(ctx, alice, f, 1)
		require.True(t, xerrors.Is(err, cipherscore.ErrUnsupportedParameterType), f)
	}
	for _, f := range []string{"missing", "reset", "setOld"} {
		_, err = b.Build(ctx, alice, f, 1)
		require.True(t, xerrors.Is(err, cipherscore.ErrMissingSchema), f)
	}
}

func TestBuilder_Cancelled(t *testing.T) {
	b, _, cleanup := newTestBuilder(t, ledger.ScoreLedgerABI)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Build(ctx, alice, ledger.MethodRecord, 1)
	require.Error(t, err)
}
