// Package decrypt recovers the plaintexts of handles for their owner. It
// deduplicates the handles, obtains the authorization of the player from
// the cache and asks the runtime to re-encrypt the handles in batches.
// Handles the runtime cannot serve are reported one by one, without failing
// the others.
package decrypt

import (
	"context"
	"fmt"

	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/authcache"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// DefaultBatchSize is the maximum number of handles sent in one request to
// the runtime.
const DefaultBatchSize = 256

// Result holds the outcome of a decryption. Every handle of Order is
// either in Values or in Failures.
type Result struct {
	Order    []fhe.Handle
	Values   map[fhe.Handle]uint64
	Failures map[fhe.Handle]error
}

func newResult(order []fhe.Handle) *Result {
	return &Result{
		Order:    order,
		Values:   make(map[fhe.Handle]uint64),
		Failures: make(map[fhe.Handle]error),
	}
}

// Value returns the plaintext of h, if it could be decrypted.
func (r *Result) Value(h fhe.Handle) (uint64, bool) {
	v, ok := r.Values[h]
	return v, ok
}

// Plaintexts returns the decrypted values in the order of the handles,
// skipping the failed ones.
func (r *Result) Plaintexts() []uint64 {
	var vs []uint64
	for _, h := range r.Order {
		if v, ok := r.Values[h]; ok {
			vs = append(vs, v)
		}
	}
	return vs
}

// Err returns an error wrapping ErrDecryptionPartialFailure if at least one
// handle could not be decrypted.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	for _, h := range r.Order {
		if err, ok := r.Failures[h]; ok {
			return xerrors.Errorf("%d of %d handles failed, first %s (%v): %w",
				len(r.Failures), len(r.Order), h, err,
				cipherscore.ErrDecryptionPartialFailure)
		}
	}
	return nil
}

func (r *Result) String() string {
	return fmt.Sprintf("Result[%d ok, %d failed]", len(r.Values), len(r.Failures))
}

// Orchestrator decrypts handles with the runtime.
type Orchestrator struct {
	// BatchSize limits the number of handles per runtime request.
	BatchSize int
	runtime   fhe.Runtime
	cache     *authcache.Cache
}

// New returns an orchestrator using the authorizations of cache.
func New(runtime fhe.Runtime, cache *authcache.Cache) *Orchestrator {
	return &Orchestrator{
		BatchSize: DefaultBatchSize,
		runtime:   runtime,
		cache:     cache,
	}
}

// Decrypt returns the plaintexts of handles. The returned error is only set
// if no handle could be decrypted: a missing authorization, or a refused
// authorization or failing runtime on the first batch. A batch failing later
// marks its handles and the remaining ones as failed. Per-handle failures are
// in the result and reported by Result.Err.
func (o *Orchestrator) Decrypt(ctx context.Context, handles []fhe.Handle,
	k authcache.Key, signer authcache.Signer) (*Result, error) {
	res := newResult(fhe.Dedup(handles))
	if len(res.Order) == 0 {
		return res, nil
	}

	auth, err := o.cache.Obtain(ctx, k, signer)
	if err != nil {
		return nil, err
	}

	size := o.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(res.Order); start += size {
		end := start + size
		if end > len(res.Order) {
			end = len(res.Order)
		}
		if err := o.batch(ctx, res, res.Order[start:end], k, auth); err != nil {
			if start == 0 {
				return nil, err
			}
			// Earlier batches are kept, everything left is reported per handle.
			log.Lvl2("batch at", start, "failed for", k, ":", err)
			for _, h := range res.Order[start:] {
				res.Failures[h] = err
			}
			break
		}
	}
	log.Lvl2("decrypted for", k, ":", res)
	return res, nil
}

func (o *Orchestrator) batch(ctx context.Context, res *Result, handles []fhe.Handle,
	k authcache.Key, auth *fhe.Authorization) error {
	shares, err := o.runtime.UserDecrypt(ctx, handles, auth)
	if err != nil {
		if xerrors.Is(err, fhe.ErrAuthorizationRefused) {
			log.Lvl2("runtime refused authorization of", k)
			if err := o.cache.Invalidate(k); err != nil {
				log.Error(err)
			}
			return xerrors.Errorf("%v: %w", err, cipherscore.ErrAuthorizationDenied)
		}
		return xerrors.Errorf("user decryption: %v", err)
	}

	want := make(map[fhe.Handle]bool, len(handles))
	for _, h := range handles {
		want[h] = true
	}
	for _, s := range shares {
		if _, ok := res.Values[s.Handle]; ok || !want[s.Handle] {
			continue
		}
		if err := s.Err(); err != nil {
			res.Failures[s.Handle] = err
			continue
		}
		v, err := s.Share.Open(cipherscore.Suite, auth.Private, s.Handle.Primitive())
		if err != nil {
			res.Failures[s.Handle] = xerrors.Errorf("%v: %w", err, fhe.ErrInvalidShare)
			continue
		}
		res.Values[s.Handle] = v
		delete(res.Failures, s.Handle)
	}
	for _, h := range handles {
		_, ok := res.Values[h]
		if _, failed := res.Failures[h]; !ok && !failed {
			res.Failures[h] = xerrors.Errorf("no share returned: %w", fhe.ErrInvalidShare)
		}
	}
	return nil
}
