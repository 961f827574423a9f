// Package authcache obtains and keeps the decryption authorizations of the
// players. An authorization is signed once per (subject, contract, chain)
// and reused until it expires, so that a player is prompted only once even
// if many decryptions are running at the same time.
package authcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// DefaultDurationDays is the validity of a new authorization.
const DefaultDurationDays = 365

// Key identifies one authorization.
type Key struct {
	Subject  common.Address
	Contract common.Address
	Chain    uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s/%d", k.Subject.Hex(), k.Contract.Hex(), k.Chain)
}

// Signer signs authorization requests, usually after asking the user.
type Signer interface {
	Account() common.Address
	SignAuthorization(ctx context.Context, req *fhe.AuthorizationRequest) ([]byte, error)
}

// flight is a signing prompt shared by all the callers waiting for the
// same key. It is cancelled when the last one stops waiting.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache hands out authorizations, creating them when needed.
type Cache struct {
	// DurationDays is the validity of new authorizations.
	DurationDays int64
	store        Store
	group        singleflight.Group
	flightsLock  sync.Mutex
	flights      map[Key]*flight
	now          func() time.Time
	// generation is bumped by every deletion. A prompt that was answered
	// after a deletion does not store its authorization.
	generation uint64
	genLock    sync.Mutex
}

// New returns a cache keeping its entries in store. If store is nil, the
// entries are kept in memory.
func New(store Store) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{
		DurationDays: DefaultDurationDays,
		store:        store,
		flights:      make(map[Key]*flight),
		now:          time.Now,
	}
}

// Obtain returns the valid authorization for k, asking signer for a new
// one if there is none. All concurrent calls for the same key share one
// prompt. If the prompt is declined, or if ctx is done before it is
// answered, ErrAuthorizationDenied is returned and nothing is stored.
func (c *Cache) Obtain(ctx context.Context, k Key, signer Signer) (*fhe.Authorization, error) {
	if signer.Account() != k.Subject {
		return nil, xerrors.Errorf("signer %s cannot authorize for %s: %w",
			signer.Account().Hex(), k.Subject.Hex(),
			cipherscore.ErrAuthorizationDenied)
	}
	if a, err := c.lookup(k); err != nil || a != nil {
		return a, err
	}

	f := c.join(k)
	defer c.leave(k, f)
	ch := c.group.DoChan(k.String(), func() (interface{}, error) {
		return c.create(f.ctx, k, signer)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fhe.Authorization), nil
	case <-ctx.Done():
		return nil, xerrors.Errorf("stopped waiting for %s (%v): %w", k,
			ctx.Err(), cipherscore.ErrAuthorizationDenied)
	}
}

// Invalidate removes the authorization of k.
func (c *Cache) Invalidate(k Key) error {
	return c.delete(func(other Key) bool { return other == k })
}

// InvalidateSubject removes all authorizations signed by subject.
func (c *Cache) InvalidateSubject(subject common.Address) error {
	return c.delete(func(k Key) bool { return k.Subject == subject })
}

// InvalidateChain removes all authorizations for the chain.
func (c *Cache) InvalidateChain(chain uint64) error {
	return c.delete(func(k Key) bool { return k.Chain == chain })
}

// Purge removes all authorizations.
func (c *Cache) Purge() error {
	return c.delete(func(Key) bool { return true })
}

func (c *Cache) delete(match func(Key) bool) error {
	c.genLock.Lock()
	defer c.genLock.Unlock()
	c.generation++
	if err := c.store.Delete(match); err != nil {
		return xerrors.Errorf("deleting authorizations: %v", err)
	}
	return nil
}

// lookup returns the stored entry of k if it is still valid. Expired
// entries are removed.
func (c *Cache) lookup(k Key) (*fhe.Authorization, error) {
	a, err := c.store.Get(k)
	if err != nil {
		return nil, xerrors.Errorf("looking up %s: %v", k, err)
	}
	if a == nil {
		return nil, nil
	}
	if a.ValidAt(c.now()) {
		return a, nil
	}
	log.Lvl2("authorization for", k, "expired at", a.ExpiresAt())
	return nil, c.Invalidate(k)
}

func (c *Cache) create(ctx context.Context, k Key, signer Signer) (*fhe.Authorization, error) {
	// Another flight might have finished between the lookup and now.
	if a, err := c.lookup(k); err != nil || a != nil {
		return a, err
	}

	gen := c.currentGeneration()
	kp := key.NewKeyPair(cipherscore.Suite)
	pub, err := kp.Public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("marshalling key: %v", err)
	}
	req := fhe.AuthorizationRequest{
		PublicKey:      pub,
		Contracts:      []common.Address{k.Contract},
		ChainID:        k.Chain,
		StartTimestamp: c.now().Unix(),
		DurationDays:   c.DurationDays,
	}
	log.Lvl2("asking", k.Subject.Hex(), "for a decryption authorization")
	sig, err := signer.SignAuthorization(ctx, &req)
	if err != nil {
		return nil, xerrors.Errorf("signing authorization for %s (%v): %w", k,
			err, cipherscore.ErrAuthorizationDenied)
	}
	if err := req.VerifySignature(k.Subject, sig); err != nil {
		return nil, xerrors.Errorf("bad signature for %s (%v): %w", k, err,
			cipherscore.ErrAuthorizationDenied)
	}

	a := &fhe.Authorization{
		Subject:   k.Subject,
		Request:   req,
		Signature: sig,
		Private:   kp.Private,
	}
	if err := c.put(k, a, gen); err != nil {
		return nil, xerrors.Errorf("storing authorization: %v", err)
	}
	return a, nil
}

func (c *Cache) currentGeneration() uint64 {
	c.genLock.Lock()
	defer c.genLock.Unlock()
	return c.generation
}

// put stores a unless the cache was invalidated since gen.
func (c *Cache) put(k Key, a *fhe.Authorization, gen uint64) error {
	c.genLock.Lock()
	defer c.genLock.Unlock()
	if c.generation != gen {
		log.Lvl2("cache invalidated while signing for", k, ", not storing")
		return nil
	}
	return c.store.Put(k, a)
}

func (c *Cache) join(k Key) *flight {
	c.flightsLock.Lock()
	defer c.flightsLock.Unlock()
	f, ok := c.flights[k]
	if !ok {
		f = &flight{}
		f.ctx, f.cancel = context.WithCancel(context.Background())
		c.flights[k] = f
	}
	f.waiters++
	return f
}

// leave cancels the prompt when nobody waits for it anymore. The key is
// forgotten, so that the next caller starts a new prompt instead of
// joining the cancelled one.
func (c *Cache) leave(k Key, f *flight) {
	c.flightsLock.Lock()
	defer c.flightsLock.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[k] == f {
		delete(c.flights, k)
		c.group.Forget(k.String())
	}
}
