package kms

import (
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Used for tests
var kmsID onet.ServiceID

// ServiceName is the name under which the runtime is registered with onet.
const ServiceName = "FHEKMS"

var bucketService = []byte("fhekms")

func init() {
	var err error
	kmsID, err = onet.RegisterNewService(ServiceName, newService)
	log.ErrFatal(err)
}

// Service exposes an Engine to remote clients.
type Service struct {
	*onet.ServiceProcessor
	engine *Engine
}

// GetPublicKeys returns the keys of the runtime.
func (s *Service) GetPublicKeys(req *GetPublicKeys) (*GetPublicKeysReply, error) {
	keys := s.engine.PublicKeys()
	return &GetPublicKeysReply{
		Encryption: keys.Encryption,
		Signing:    keys.Signing,
	}, nil
}

// VerifyInput stores a verified input and returns its handle and proof.
func (s *Service) VerifyInput(req *VerifyInput) (*VerifyInputReply, error) {
	b, err := bindingFromWire(req.ChainID, req.Contract, req.Recipient)
	if err != nil {
		return nil, err
	}
	h, proof, err := s.engine.VerifyInput(b, &fhe.Input{
		Primitive: fhe.Primitive(req.Primitive),
		U:         req.U,
		C:         req.C,
		Ubar:      req.Ubar,
		E:         req.E,
		F:         req.F,
	})
	if err != nil {
		return nil, cipherscore.StepError("verify input", err)
	}
	return &VerifyInputReply{Handle: h.Slice(), Proof: proof}, nil
}

// UserDecrypt re-encrypts a batch of handles for the subject of the
// authorization.
func (s *Service) UserDecrypt(req *UserDecrypt) (*UserDecryptReply, error) {
	log.Lvl2(s.ServerIdentity(), "re-encrypting", len(req.Handles), "handles")
	handles := make([]fhe.Handle, len(req.Handles))
	for i, buf := range req.Handles {
		h, err := fhe.HandleFromBytes(buf)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	if len(req.Subject) != common.AddressLength {
		return nil, xerrors.New("subject is not an address")
	}
	ar := &fhe.AuthorizationRequest{
		PublicKey:      req.PublicKey,
		ChainID:        req.ChainID,
		StartTimestamp: req.StartTimestamp,
		DurationDays:   req.DurationDays,
	}
	for _, c := range req.Contracts {
		ar.Contracts = append(ar.Contracts, common.BytesToAddress(c))
	}

	results, err := s.engine.UserDecrypt(handles,
		common.BytesToAddress(req.Subject), ar, req.Signature)
	if xerrors.Is(err, fhe.ErrAuthorizationRefused) {
		return &UserDecryptReply{Refused: err.Error()}, nil
	}
	if err != nil {
		return nil, cipherscore.StepError("user decrypt", err)
	}

	reply := &UserDecryptReply{Shares: make([]ShareReply, len(results))}
	for i, r := range results {
		sr := ShareReply{
			Handle: r.Handle.Slice(),
			Reason: r.Reason,
			U:      s.engine.suite.Point().Null(),
			C:      s.engine.suite.Point().Null(),
		}
		if r.Share != nil {
			sr.U, sr.C = r.Share.U, r.Share.C
		}
		reply.Shares[i] = sr
	}
	return reply, nil
}

func bindingFromWire(chainID uint64, contract, recipient []byte) (fhe.Binding, error) {
	if len(contract) != common.AddressLength ||
		len(recipient) != common.AddressLength {
		return fhe.Binding{}, xerrors.New("binding addresses must have 20 bytes")
	}
	return fhe.Binding{
		ChainID:   chainID,
		Contract:  common.BytesToAddress(contract),
		Recipient: common.BytesToAddress(recipient),
	}, nil
}

func newService(c *onet.Context) (onet.Service, error) {
	db, bucket := c.GetAdditionalBucket(bucketService)
	engine, err := NewEngine(db, bucket)
	if err != nil {
		return nil, xerrors.Errorf("loading engine: %v", err)
	}
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		engine:           engine,
	}
	if err := s.RegisterHandlers(s.GetPublicKeys, s.VerifyInput,
		s.UserDecrypt); err != nil {
		return nil, xerrors.New("couldn't register messages")
	}
	return s, nil
}
