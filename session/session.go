// Package session ties together the components used by one player: the
// submission machine, the ledger reads and the decryption of the history.
// A session follows the active account and chain of the player and drops
// everything bound to the previous ones when they change.
package session

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.dedis.ch/cipherscore/authcache"
	"go.dedis.ch/cipherscore/decrypt"
	"go.dedis.ch/cipherscore/encrypt"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/cipherscore/submit"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Signer is the wallet of the player. It signs the transactions and the
// decryption authorizations.
type Signer interface {
	Account() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	SignAuthorization(ctx context.Context, req *fhe.AuthorizationRequest) ([]byte, error)
}

// Config holds the parameters of a session.
type Config struct {
	ChainID        uint64
	Contract       common.Address
	ConfirmTimeout time.Duration
	// GasLimit of the append transactions, ledger.DefaultGasLimit if 0.
	GasLimit uint64
}

// Session is the entry point of a player.
type Session struct {
	sync.Mutex
	config    Config
	runtime   fhe.Runtime
	cache     *authcache.Cache
	decrypter *decrypt.Orchestrator
	signer    Signer
	client    *ledger.Client
	machine   *submit.Machine
	observers []func(submit.Status)
}

// New returns a session for the player behind signer. If cache is nil, the
// authorizations are only kept in memory.
func New(config Config, runtime fhe.Runtime, backend ledger.Backend,
	signer Signer, cache *authcache.Cache) (*Session, error) {
	if cache == nil {
		cache = authcache.New(nil)
	}
	s := &Session{
		config:    config,
		runtime:   runtime,
		cache:     cache,
		decrypter: decrypt.New(runtime, cache),
		signer:    signer,
	}
	if err := s.connect(backend); err != nil {
		return nil, err
	}
	s.machine = s.newMachine()
	return s, nil
}

// Account returns the active account.
func (s *Session) Account() common.Address {
	s.Lock()
	defer s.Unlock()
	return s.signer.Account()
}

// ChainID returns the active chain.
func (s *Session) ChainID() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.config.ChainID
}

// Ledger returns the client of the active chain.
func (s *Session) Ledger() *ledger.Client {
	s.Lock()
	defer s.Unlock()
	return s.client
}

// SubmitScore encrypts and records value for the active account.
func (s *Session) SubmitScore(ctx context.Context, value uint64) (*submit.Outcome, error) {
	s.Lock()
	m := s.machine
	s.Unlock()
	return m.Submit(ctx, value)
}

// Status returns the status of the last submission.
func (s *Session) Status() submit.Status {
	s.Lock()
	m := s.machine
	s.Unlock()
	return m.Status()
}

// Subscribe registers f for the status changes of the active account.
func (s *Session) Subscribe(f func(submit.Status)) {
	s.Lock()
	defer s.Unlock()
	s.observers = append(s.observers, f)
}

// History returns the handles recorded by player. Any player can be read,
// the values stay encrypted.
func (s *Session) History(ctx context.Context, player common.Address) ([]fhe.Handle, error) {
	return s.Ledger().FetchHistory(ctx, player)
}

// MyHistory returns the handles of the active account.
func (s *Session) MyHistory(ctx context.Context) ([]fhe.Handle, error) {
	return s.History(ctx, s.Account())
}

// HasEncryptedData returns true if player recorded at least one score.
func (s *Session) HasEncryptedData(ctx context.Context, player common.Address) (bool, error) {
	return s.Ledger().HasEncryptedData(ctx, player)
}

// Decrypt returns the plaintexts of the handles the active account may
// read. The player is asked for an authorization if none is cached.
func (s *Session) Decrypt(ctx context.Context, handles []fhe.Handle) (*decrypt.Result, error) {
	s.Lock()
	signer := s.signer
	k := s.key()
	s.Unlock()
	return s.decrypter.Decrypt(ctx, handles, k, signer)
}

// DecryptHistory reads and decrypts the history of the active account.
func (s *Session) DecryptHistory(ctx context.Context) (*decrypt.Result, error) {
	history, err := s.MyHistory(ctx)
	if err != nil {
		return nil, err
	}
	return s.Decrypt(ctx, history)
}

// SwitchAccount makes signer the active account. The authorizations of the
// previous account are dropped and the status is cleared. A running
// submission of the previous account continues but is not reported
// anymore.
func (s *Session) SwitchAccount(signer Signer) {
	s.Lock()
	old := s.signer.Account()
	s.signer = signer
	s.machine = s.newMachine()
	s.Unlock()

	log.Lvl2("switching account from", old.Hex(), "to", signer.Account().Hex())
	if err := s.cache.InvalidateSubject(old); err != nil {
		log.Error(err)
	}
	s.notify(submit.Status{})
}

// SwitchChain moves the session to another chain reached through backend.
// The authorizations for the previous chain are dropped and the status is
// cleared.
func (s *Session) SwitchChain(chainID uint64, backend ledger.Backend) error {
	s.Lock()
	old := s.config
	s.config.ChainID = chainID
	if err := s.connect(backend); err != nil {
		s.config = old
		s.Unlock()
		return err
	}
	s.machine = s.newMachine()
	s.Unlock()

	log.Lvl2("switching chain from", old.ChainID, "to", chainID)
	if err := s.cache.InvalidateChain(old.ChainID); err != nil {
		log.Error(err)
	}
	s.notify(submit.Status{})
	return nil
}

func (s *Session) key() authcache.Key {
	return authcache.Key{
		Subject:  s.signer.Account(),
		Contract: s.config.Contract,
		Chain:    s.config.ChainID,
	}
}

// connect creates the ledger client for the current configuration.
func (s *Session) connect(backend ledger.Backend) error {
	client, err := ledger.NewClient(backend, s.config.Contract, s.config.ChainID)
	if err != nil {
		return xerrors.Errorf("creating ledger client: %v", err)
	}
	if s.config.GasLimit > 0 {
		client.GasLimit = s.config.GasLimit
	}
	s.client = client
	return nil
}

// newMachine returns a machine for the current account and chain, whose
// status changes are forwarded as long as it is the active one.
func (s *Session) newMachine() *submit.Machine {
	schema, err := encrypt.ParseSchema(s.client.Schema())
	if err != nil {
		log.Panic("contract ABI:", err)
	}
	builder := encrypt.NewBuilder(s.runtime, schema, s.config.Contract,
		s.config.ChainID)
	m := submit.NewMachine(s.client, builder, s.signer)
	if s.config.ConfirmTimeout > 0 {
		m.ConfirmTimeout = s.config.ConfirmTimeout
	}
	m.Subscribe(func(st submit.Status) {
		s.Lock()
		active := s.machine == m
		s.Unlock()
		if active {
			s.notify(st)
		}
	})
	return m
}

func (s *Session) notify(st submit.Status) {
	s.Lock()
	observers := append([]func(submit.Status){}, s.observers...)
	s.Unlock()
	for _, f := range observers {
		f(st)
	}
}
