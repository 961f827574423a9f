package kms

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/suites"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// MaxBatch is the maximum number of handles in one decryption request.
const MaxBatch = 256

var (
	bucketKeys   = []byte("keys")
	bucketInputs = []byte("inputs")
	keyEncrypt   = []byte("encryption")
	keySign      = []byte("signing")
)

// Engine holds the secret keys of the runtime and the stored inputs. It is
// used directly by Local and wrapped by the onet Service.
type Engine struct {
	suite  suites.Suite
	db     *bbolt.DB
	bucket []byte
	enc    *key.Pair
	sign   *key.Pair
	now    func() time.Time
}

// NewEngine opens the engine in the given bucket of db, creating the keys
// on first use.
func NewEngine(db *bbolt.DB, bucket []byte) (*Engine, error) {
	e := &Engine{
		suite:  cipherscore.Suite,
		db:     db,
		bucket: bucket,
		now:    time.Now,
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		if _, err := b.CreateBucketIfNotExists(bucketInputs); err != nil {
			return err
		}
		keys, err := b.CreateBucketIfNotExists(bucketKeys)
		if err != nil {
			return err
		}
		if e.enc, err = e.loadOrCreateKey(keys, keyEncrypt); err != nil {
			return err
		}
		e.sign, err = e.loadOrCreateKey(keys, keySign)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("opening engine: %v", err)
	}
	return e, nil
}

func (e *Engine) loadOrCreateKey(b *bbolt.Bucket, name []byte) (*key.Pair, error) {
	buf := b.Get(name)
	if buf == nil {
		kp := key.NewKeyPair(e.suite)
		priv, err := kp.Private.MarshalBinary()
		if err != nil {
			return nil, err
		}
		log.Lvlf2("created new %s key %s", name, kp.Public)
		return kp, b.Put(name, priv)
	}
	priv := e.suite.Scalar()
	if err := priv.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("corrupted %s key: %v", name, err)
	}
	return &key.Pair{
		Private: priv,
		Public:  e.suite.Point().Mul(priv, nil),
	}, nil
}

// PublicKeys returns the public keys of the engine.
func (e *Engine) PublicKeys() *fhe.PublicKeys {
	return &fhe.PublicKeys{
		Encryption: e.enc.Public,
		Signing:    e.sign.Public,
	}
}

// VerifyInput checks the proof of an input for its binding, stores the
// ciphertext with the binding as access-control list and signs the input
// proof.
func (e *Engine) VerifyInput(b fhe.Binding, in *fhe.Input) (fhe.Handle, fhe.InputProof, error) {
	if !in.Primitive.Supported() {
		return fhe.Handle{}, nil, xerrors.Errorf("unsupported primitive %s",
			in.Primitive)
	}
	if err := in.CheckProof(e.suite, b); err != nil {
		return fhe.Handle{}, nil, xerrors.Errorf("verifying input: %v", err)
	}
	h := in.Handle(b)

	rec := record{
		Primitive: int(in.Primitive),
		ChainID:   b.ChainID,
		Contract:  b.Contract.Bytes(),
		Recipient: b.Recipient.Bytes(),
	}
	var err error
	if rec.U, err = in.U.MarshalBinary(); err != nil {
		return fhe.Handle{}, nil, err
	}
	if rec.C, err = in.C.MarshalBinary(); err != nil {
		return fhe.Handle{}, nil, err
	}
	buf, err := protobuf.Encode(&rec)
	if err != nil {
		return fhe.Handle{}, nil, xerrors.Errorf("encoding record: %v", err)
	}
	err = e.db.Update(func(tx *bbolt.Tx) error {
		return e.inputs(tx).Put(h[:], buf)
	})
	if err != nil {
		return fhe.Handle{}, nil, xerrors.Errorf("storing input: %v", err)
	}

	proof, err := fhe.SignInputProof(e.suite, e.sign.Private, h, b)
	if err != nil {
		return fhe.Handle{}, nil, err
	}
	log.Lvlf3("stored %s for %s", h, b.Recipient.Hex())
	return h, proof, nil
}

// UserDecrypt re-encrypts the handles to the ephemeral key of the
// authorization. An error wrapping fhe.ErrAuthorizationRefused is returned
// if the authorization is not acceptable; handles the subject may not read
// are reported in the results.
func (e *Engine) UserDecrypt(handles []fhe.Handle, subject common.Address,
	req *fhe.AuthorizationRequest, sig []byte) ([]fhe.ShareResult, error) {
	if len(handles) > MaxBatch {
		return nil, xerrors.Errorf("batch of %d handles is bigger than %d",
			len(handles), MaxBatch)
	}
	if err := req.VerifySignature(subject, sig); err != nil {
		return nil, xerrors.Errorf("%v: %w", err, fhe.ErrAuthorizationRefused)
	}
	if !req.ValidAt(e.now()) {
		return nil, xerrors.Errorf("not valid at this time: %w",
			fhe.ErrAuthorizationRefused)
	}
	Xc := e.suite.Point()
	if err := Xc.UnmarshalBinary(req.PublicKey); err != nil {
		return nil, xerrors.Errorf("bad public key (%v): %w",
			err, fhe.ErrAuthorizationRefused)
	}

	results := make([]fhe.ShareResult, len(handles))
	err := e.db.View(func(tx *bbolt.Tx) error {
		inputs := e.inputs(tx)
		for i, h := range handles {
			results[i] = e.reencrypt(inputs.Get(h[:]), h, subject, req, Xc)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("reading inputs: %v", err)
	}
	return results, nil
}

func (e *Engine) reencrypt(buf []byte, h fhe.Handle, subject common.Address,
	req *fhe.AuthorizationRequest, Xc kyber.Point) fhe.ShareResult {
	res := fhe.ShareResult{Handle: h}
	if buf == nil {
		res.Reason = fhe.ReasonUnknownHandle
		return res
	}
	var rec record
	if err := protobuf.Decode(buf, &rec); err != nil {
		log.Error("corrupted record for", h, err)
		res.Reason = fhe.ReasonInvalidShare
		return res
	}
	if common.BytesToAddress(rec.Recipient) != subject ||
		!req.Covers(common.BytesToAddress(rec.Contract), rec.ChainID) {
		log.Lvlf2("%s may not read %s", subject.Hex(), h)
		res.Reason = fhe.ReasonAccessDenied
		return res
	}
	in := &fhe.Input{
		Primitive: fhe.Primitive(rec.Primitive),
		U:         e.suite.Point(),
		C:         e.suite.Point(),
	}
	if in.U.UnmarshalBinary(rec.U) != nil || in.C.UnmarshalBinary(rec.C) != nil {
		res.Reason = fhe.ReasonInvalidShare
		return res
	}
	res.Share = fhe.Reencrypt(e.suite, in.Decrypt(e.suite, e.enc.Private), Xc)
	return res
}

func (e *Engine) inputs(tx *bbolt.Tx) *bbolt.Bucket {
	b := tx.Bucket(e.bucket)
	if b == nil {
		panic("Bucket has not been created. This is a programmer error.")
	}
	return b.Bucket(bucketInputs)
}
