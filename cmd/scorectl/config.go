package main

import (
	"context"
	"crypto/ecdsa"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/authcache"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/kms"
	"go.dedis.ch/cipherscore/ledger"
	"go.dedis.ch/cipherscore/ledger/simchain"
	"go.dedis.ch/cipherscore/session"
	"go.dedis.ch/cipherscore/wallet"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

const (
	configFile = "scorectl.toml"
	walletFile = "wallet.key"
	dbFile     = "cipherscore.db"
)

var (
	bucketKMS   = []byte("kms")
	bucketChain = []byte("chain")
	bucketAuth  = []byte("authorizations")
)

// config is stored in the configuration directory as scorectl.toml.
type config struct {
	ChainID  uint64
	Contract string
	// RPCURL of an Ethereum node. If empty, the chain is simulated in the
	// database of the configuration directory.
	RPCURL string
	// KMSAddress and KMSPublic point to a conode running the FHEKMS
	// service. If empty, the runtime runs in-process.
	KMSAddress            string
	KMSPublic             string
	ConfirmTimeoutSeconds int
	AuthDurationDays      int64
	GasLimit              uint64
}

func defaultConfig() *config {
	return &config{
		ChainID:               31337,
		Contract:              simchain.DefaultContract.Hex(),
		ConfirmTimeoutSeconds: 120,
		AuthDurationDays:      authcache.DefaultDurationDays,
		GasLimit:              ledger.DefaultGasLimit,
	}
}

func loadConfig(dir string) (*config, error) {
	cfg := defaultConfig()
	_, err := toml.DecodeFile(filepath.Join(dir, configFile), cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Errorf("no configuration in %s, "+
				"run 'scorectl init' first", dir)
		}
		return nil, xerrors.Errorf("reading configuration: %v", err)
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, xerrors.Errorf("invalid contract address '%s'", cfg.Contract)
	}
	return cfg, nil
}

func (cfg *config) save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, configFile),
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func (cfg *config) contract() common.Address {
	return common.HexToAddress(cfg.Contract)
}

func (cfg *config) confirmTimeout() time.Duration {
	return time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second
}

// loadKey reads the key of the player, creating it if create is true.
func loadKey(dir string, create bool) (*ecdsa.PrivateKey, error) {
	path := filepath.Join(dir, walletFile)
	buf, err := ioutil.ReadFile(path)
	if err == nil {
		return crypto.HexToECDSA(strings.TrimSpace(string(buf)))
	}
	if !os.IsNotExist(err) || !create {
		return nil, xerrors.Errorf("reading wallet: %v", err)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	w := wallet.New(key, nil)
	log.Lvl1("created new wallet", w.Address.Hex())
	return key, ioutil.WriteFile(path, []byte(w.PrivateHex()), 0600)
}

// environment holds everything opened by a command.
type environment struct {
	cfg     *config
	db      *bbolt.DB
	runtime fhe.Runtime
	backend ledger.Backend
	session *session.Session
	wallet  *wallet.Wallet
}

func (env *environment) Close() {
	if c, ok := env.backend.(*ethclient.Client); ok {
		c.Close()
	}
	if env.db != nil {
		env.db.Close()
	}
}

// open loads the configuration in dir and connects the runtime, the chain
// and the session.
func open(ctx context.Context, dir string, approver wallet.Approver) (*environment, error) {
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	key, err := loadKey(dir, false)
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, wallet: wallet.New(key, approver)}
	env.db, err = bbolt.Open(filepath.Join(dir, dbFile), 0600,
		&bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("opening database: %v", err)
	}

	if err := env.openRuntime(); err != nil {
		env.Close()
		return nil, err
	}
	if err := env.openBackend(ctx); err != nil {
		env.Close()
		return nil, err
	}

	store, err := authcache.NewBoltStore(env.db, bucketAuth)
	if err != nil {
		env.Close()
		return nil, err
	}
	cache := authcache.New(store)
	cache.DurationDays = cfg.AuthDurationDays
	env.session, err = session.New(session.Config{
		ChainID:        cfg.ChainID,
		Contract:       cfg.contract(),
		ConfirmTimeout: cfg.confirmTimeout(),
		GasLimit:       cfg.GasLimit,
	}, env.runtime, env.backend, env.wallet, cache)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (env *environment) openRuntime() error {
	if env.cfg.KMSAddress == "" {
		engine, err := kms.NewEngine(env.db, bucketKMS)
		if err != nil {
			return err
		}
		env.runtime = kms.NewLocal(engine)
		return nil
	}
	pub, err := encoding.StringHexToPoint(cipherscore.Suite, env.cfg.KMSPublic)
	if err != nil {
		return xerrors.Errorf("invalid KMS public key: %v", err)
	}
	si := network.NewServerIdentity(pub, network.Address(env.cfg.KMSAddress))
	env.runtime = kms.NewClient(si)
	return nil
}

func (env *environment) openBackend(ctx context.Context) error {
	if env.cfg.RPCURL != "" {
		c, err := ethclient.Dial(env.cfg.RPCURL)
		if err != nil {
			return xerrors.Errorf("connecting to %s: %v", env.cfg.RPCURL, err)
		}
		env.backend = c
		return nil
	}
	keys, err := env.runtime.PublicKeys(ctx)
	if err != nil {
		return xerrors.Errorf("getting runtime keys: %v", err)
	}
	chain, err := simchain.NewChain(env.db, bucketChain, env.cfg.ChainID,
		env.cfg.contract(), keys.Signing)
	if err != nil {
		return err
	}
	env.backend = chain
	return nil
}
