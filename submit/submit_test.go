package submit

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/authcache"
	"go.dedis.ch/cipherscore/decrypt"
	"go.dedis.ch/cipherscore/encrypt"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/kms"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/cipherscore/ledger/simchain"
	"go.dedis.ch/cipherscore/wallet"
	"go.dedis.ch/onet/v3/log"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

const testChain = 31337

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type env struct {
	dir     string
	db      *bbolt.DB
	runtime fhe.Runtime
	chain   *simchain.Chain
	client  *ledger.Client
	builder *encrypt.Builder
}

func newEnv(t *testing.T) *env {
	dir, err := ioutil.TempDir("", "submit")
	require.NoError(t, err)
	db, err := bbolt.Open(filepath.Join(dir, "test.db"), 0600, nil)
	require.NoError(t, err)
	engine, err := kms.NewEngine(db, []byte("kms"))
	require.NoError(t, err)
	chain, err := simchain.NewChain(db, []byte("chain"), testChain,
		simchain.DefaultContract, engine.PublicKeys().Signing)
	require.NoError(t, err)
	client, err := ledger.NewClient(chain, simchain.DefaultContract, testChain)
	require.NoError(t, err)
	schema, err := encrypt.ParseSchema(client.Schema())
	require.NoError(t, err)
	rt := kms.NewLocal(engine)
	return &env{
		dir:     dir,
		db:      db,
		runtime: rt,
		chain:   chain,
		client:  client,
		builder: encrypt.NewBuilder(rt, schema, client.Address(), testChain),
	}
}

func (e *env) Close() {
	e.db.Close()
	os.RemoveAll(e.dir)
}

func (e *env) machine(t *testing.T, a wallet.Approver) (*Machine, *wallet.Wallet) {
	w, err := wallet.Generate(a)
	require.NoError(t, err)
	return NewMachine(e.client, e.builder, w), w
}

func (e *env) decrypt(t *testing.T, w *wallet.Wallet, hs []fhe.Handle) []uint64 {
	orch := decrypt.New(e.runtime, authcache.New(nil))
	res, err := orch.Decrypt(context.Background(), hs, authcache.Key{
		Subject:  w.Account(),
		Contract: e.client.Address(),
		Chain:    testChain,
	}, w)
	require.NoError(t, err)
	require.NoError(t, res.Err())
	return res.Plaintexts()
}

// recorder keeps all statuses a machine reports.
type recorder struct {
	sync.Mutex
	states []State
}

func (r *recorder) observe(s Status) {
	r.Lock()
	defer r.Unlock()
	r.states = append(r.states, s.State)
}

func (r *recorder) get() []State {
	r.Lock()
	defer r.Unlock()
	return append([]State{}, r.states...)
}

func TestMachine_RoundTrip(t *testing.T) {
	e := newEnv(t)
	defer e.Close()
	m, w := e.machine(t, nil)
	rec := &recorder{}
	m.Subscribe(rec.observe)

	values := []uint64{1024, 2048, 4096}
	for i, v := range values {
		out, err := m.Submit(context.Background(), v)
		require.NoError(t, err)
		require.Len(t, out.History, i+1)
		require.Equal(t, out.Handle, out.History[i])
		require.Equal(t, out.TxHash, out.Receipt.TxHash)
		require.Equal(t, Idle, m.Status().State)
		require.Equal(t, "Encrypted score ("+
			[]string{"1024", "2048", "4096"}[i]+") recorded!", m.Status().Message)
	}
	require.Equal(t, []State{Encrypting, Signing, AwaitingConfirmation,
		Refreshing, Idle}, rec.get()[:5])

	history, err := e.client.FetchHistory(context.Background(), w.Account())
	require.NoError(t, err)
	require.Equal(t, values, e.decrypt(t, w, history))
}

func TestMachine_Values(t *testing.T) {
	e := newEnv(t)
	defer e.Close()
	m, w := e.machine(t, nil)

	var hs []fhe.Handle
	for _, v := range []uint64{math.MaxUint32, 512, 512, 0} {
		out, err := m.Submit(context.Background(), v)
		require.NoError(t, err)
		hs = append(hs, out.Handle)
	}
	require.NotEqual(t, hs[1], hs[2])
	require.Equal(t, []uint64{math.MaxUint32, 512, 512, 0}, e.decrypt(t, w, hs))

	rec := &recorder{}
	m.Subscribe(rec.observe)
	_, err := m.Submit(context.Background(), math.MaxUint32+1)
	require.True(t, xerrors.Is(err, cipherscore.ErrValueOutOfRange))
	require.Equal(t, []State{Encrypting, Failed, Idle}, rec.get())
	require.False(t, m.Status().RetrySafe)
}

func TestMachine_InFlight(t *testing.T) {
	e := newEnv(t)
	defer e.Close()
	gate := make(chan struct{})
	m, w := e.machine(t, wallet.ApproverFunc(func(ctx context.Context, p wallet.Prompt) error {
		<-gate
		return nil
	}))

	done := make(chan error)
	go func() {
		_, err := m.Submit(context.Background(), 10)
		done <- err
	}()
	for m.Status().State != Signing {
		time.Sleep(10 * time.Millisecond)
	}

	_, err := m.Submit(context.Background(), 20)
	require.True(t, xerrors.Is(err, cipherscore.ErrInFlight))
	require.Equal(t, Signing, m.Status().State)
	require.False(t, m.Reset())

	close(gate)
	require.NoError(t, <-done)
	history, err := e.client.FetchHistory(context.Background(), w.Account())
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, e.decrypt(t, w, history))
	require.True(t, m.Reset())
	require.Equal(t, "", m.Status().Message)
}

func TestMachine_Rejected(t *testing.T) {
	e := newEnv(t)
	defer e.Close()

	// Declined by the wallet.
	m, w := e.machine(t, wallet.Decline)
	_, err := m.Submit(context.Background(), 1)
	require.True(t, xerrors.Is(err, cipherscore.ErrSubmissionRejected))
	require.Equal(t, "signing", cipherscore.StepOf(err))
	st := m.Status()
	require.Equal(t, Idle, st.State)
	require.True(t, st.RetrySafe)
	require.True(t, strings.HasPrefix(st.Message, "recordEncryptedRun() failed"))

	// Dropped by the network.
	m, w = e.machine(t, nil)
	e.chain.DropNext(1)
	_, err = m.Submit(context.Background(), 2)
	require.True(t, xerrors.Is(err, cipherscore.ErrSubmissionRejected))

	// Reverted by the contract.
	e.client.GasLimit = simchain.MinGas / 2
	_, err = m.Submit(context.Background(), 3)
	require.True(t, xerrors.Is(err, cipherscore.ErrSubmissionRejected))
	e.client.GasLimit = ledger.DefaultGasLimit

	history, err := e.client.FetchHistory(context.Background(), w.Account())
	require.NoError(t, err)
	require.Empty(t, history)

	// The retry goes through.
	_, err = m.Submit(context.Background(), 4)
	require.NoError(t, err)
}

func TestMachine_Timeout(t *testing.T) {
	e := newEnv(t)
	defer e.Close()
	m, w := e.machine(t, nil)
	m.ConfirmTimeout = 1500 * time.Millisecond

	e.chain.Hold()
	_, err := m.Submit(context.Background(), 77)
	require.True(t, xerrors.Is(err, cipherscore.ErrTimeout))
	require.Equal(t, "awaiting confirmation", cipherscore.StepOf(err))
	st := m.Status()
	require.True(t, st.Inconclusive)
	require.False(t, st.RetrySafe)
	require.Equal(t, Idle, st.State)

	// The next read shows the entry that landed anyway.
	e.chain.Release()
	history, err := e.client.FetchHistory(context.Background(), w.Account())
	require.NoError(t, err)
	require.Equal(t, []uint64{77}, e.decrypt(t, w, history))
}

// brokenReads fails every history read.
type brokenReads struct {
	*ledger.Client
}

func (brokenReads) FetchHistory(context.Context, common.Address) ([]fhe.Handle, error) {
	return nil, xerrors.New("connection reset")
}

func TestMachine_RefreshFails(t *testing.T) {
	e := newEnv(t)
	defer e.Close()
	w, err := wallet.Generate(nil)
	require.NoError(t, err)
	m := NewMachine(brokenReads{e.client}, e.builder, w)

	_, err = m.Submit(context.Background(), 42)
	require.Error(t, err)
	require.Equal(t, "refreshing", cipherscore.StepOf(err))
	st := m.Status()
	require.Equal(t, Idle, st.State)
	require.True(t, strings.HasPrefix(st.Message, "Encrypted score (42) recorded in 0x"))
	require.Contains(t, st.Message, "refreshing the history failed")
	require.NotContains(t, st.Message, "recordEncryptedRun() failed")

	// The score is on the ledger.
	history, err := e.client.FetchHistory(context.Background(), w.Account())
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, e.decrypt(t, w, history))
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, checkTransition(Idle, Encrypting))
	require.NoError(t, checkTransition(Refreshing, Failed))
	require.Error(t, checkTransition(Idle, Failed))
	require.Error(t, checkTransition(Signing, Encrypting))
	require.Error(t, checkTransition(Failed, Encrypting))
	require.Equal(t, "awaiting confirmation", AwaitingConfirmation.String())
}

var (
	_ Ledger    = (*ledger.Client)(nil)
	_ Encrypter = (*encrypt.Builder)(nil)
)
