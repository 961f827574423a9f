package authcache

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// Store keeps the authorizations of a Cache. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the entry of the key, or nil if there is none.
	Get(k Key) (*fhe.Authorization, error)
	Put(k Key, a *fhe.Authorization) error
	// Delete removes all entries for which match returns true.
	Delete(match func(Key) bool) error
}

// MemoryStore keeps the authorizations in memory. They are lost when the
// process ends.
type MemoryStore struct {
	sync.Mutex
	entries map[Key]*fhe.Authorization
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*fhe.Authorization)}
}

// Get implements Store.
func (s *MemoryStore) Get(k Key) (*fhe.Authorization, error) {
	s.Lock()
	defer s.Unlock()
	return s.entries[k], nil
}

// Put implements Store.
func (s *MemoryStore) Put(k Key, a *fhe.Authorization) error {
	s.Lock()
	defer s.Unlock()
	s.entries[k] = a
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(match func(Key) bool) error {
	s.Lock()
	defer s.Unlock()
	for k := range s.entries {
		if match(k) {
			delete(s.entries, k)
		}
	}
	return nil
}

// entry is the stored form of an authorization.
type entry struct {
	Subject        []byte
	PublicKey      []byte
	Contracts      [][]byte
	ChainID        uint64
	StartTimestamp int64
	DurationDays   int64
	Signature      []byte
	Private        []byte
}

// BoltStore keeps the authorizations in a bbolt bucket, so that a player
// is not asked to sign again after a restart. The ephemeral secrets are
// stored in clear, the database must be protected like a wallet.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStore creates the bucket if needed and returns the store.
func NewBoltStore(db *bbolt.DB, bucket []byte) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating bucket: %v", err)
	}
	return &BoltStore{db: db, bucket: bucket}, nil
}

// Get implements Store.
func (s *BoltStore) Get(k Key) (a *fhe.Authorization, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(s.bucket).Get(k.bytes())
		if buf == nil {
			return nil
		}
		var e entry
		if err := protobuf.Decode(buf, &e); err != nil {
			return err
		}
		a, err = e.authorization()
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("reading %s: %v", k, err)
	}
	return
}

// Put implements Store.
func (s *BoltStore) Put(k Key, a *fhe.Authorization) error {
	e, err := newEntry(a)
	if err != nil {
		return err
	}
	buf, err := protobuf.Encode(e)
	if err != nil {
		return xerrors.Errorf("encoding %s: %v", k, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put(k.bytes(), buf)
	})
}

// Delete implements Store.
func (s *BoltStore) Delete(match func(Key) bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var doomed [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			key, err := keyFromBytes(k)
			if err != nil {
				return err
			}
			if match(key) {
				doomed = append(doomed, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func newEntry(a *fhe.Authorization) (*entry, error) {
	priv, err := a.Private.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("marshalling key: %v", err)
	}
	e := &entry{
		Subject:        a.Subject.Bytes(),
		PublicKey:      a.Request.PublicKey,
		ChainID:        a.Request.ChainID,
		StartTimestamp: a.Request.StartTimestamp,
		DurationDays:   a.Request.DurationDays,
		Signature:      a.Signature,
		Private:        priv,
	}
	for _, c := range a.Request.Contracts {
		e.Contracts = append(e.Contracts, c.Bytes())
	}
	return e, nil
}

func (e *entry) authorization() (*fhe.Authorization, error) {
	priv := cipherscore.Suite.Scalar()
	if err := priv.UnmarshalBinary(e.Private); err != nil {
		return nil, xerrors.Errorf("corrupted key: %v", err)
	}
	a := &fhe.Authorization{
		Subject: common.BytesToAddress(e.Subject),
		Request: fhe.AuthorizationRequest{
			PublicKey:      e.PublicKey,
			ChainID:        e.ChainID,
			StartTimestamp: e.StartTimestamp,
			DurationDays:   e.DurationDays,
		},
		Signature: e.Signature,
		Private:   priv,
	}
	for _, c := range e.Contracts {
		a.Request.Contracts = append(a.Request.Contracts, common.BytesToAddress(c))
	}
	return a, nil
}

const keyLength = 2*common.AddressLength + 8

func (k Key) bytes() []byte {
	buf := make([]byte, keyLength)
	copy(buf, k.Subject[:])
	copy(buf[common.AddressLength:], k.Contract[:])
	binary.BigEndian.PutUint64(buf[2*common.AddressLength:], k.Chain)
	return buf
}

func keyFromBytes(buf []byte) (k Key, err error) {
	if len(buf) != keyLength {
		return k, xerrors.Errorf("invalid key length %d", len(buf))
	}
	copy(k.Subject[:], buf)
	copy(k.Contract[:], buf[common.AddressLength:])
	k.Chain = binary.BigEndian.Uint64(buf[2*common.AddressLength:])
	return k, nil
}
