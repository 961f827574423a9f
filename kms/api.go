package kms

import (
	"context"
	"sync"

	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

// Client talks to a remote runtime service. It implements fhe.Runtime.
type Client struct {
	*onet.Client
	server *network.ServerIdentity

	keysLock sync.Mutex
	keys     *fhe.PublicKeys
}

// NewClient returns a client for the runtime running on server.
func NewClient(server *network.ServerIdentity) *Client {
	return &Client{
		Client: onet.NewClient(cipherscore.Suite, ServiceName),
		server: server,
	}
}

// PublicKeys fetches the keys of the runtime once and keeps them.
func (c *Client) PublicKeys(ctx context.Context) (*fhe.PublicKeys, error) {
	c.keysLock.Lock()
	defer c.keysLock.Unlock()
	if c.keys != nil {
		return c.keys, nil
	}
	reply := &GetPublicKeysReply{}
	if err := c.send(ctx, &GetPublicKeys{}, reply); err != nil {
		return nil, xerrors.Errorf("getting public keys: %v", err)
	}
	c.keys = &fhe.PublicKeys{
		Encryption: reply.Encryption,
		Signing:    reply.Signing,
	}
	return c.keys, nil
}

// Encrypt creates the input locally and has it verified by the service.
func (c *Client) Encrypt(ctx context.Context, b fhe.Binding, p fhe.Primitive,
	value uint64) (fhe.Handle, fhe.InputProof, error) {
	keys, err := c.PublicKeys(ctx)
	if err != nil {
		return fhe.Handle{}, nil, err
	}
	in, err := fhe.NewInput(cipherscore.Suite, keys.Encryption, b, p, value)
	if err != nil {
		return fhe.Handle{}, nil, err
	}
	reply := &VerifyInputReply{}
	err = c.send(ctx, &VerifyInput{
		ChainID:   b.ChainID,
		Contract:  b.Contract.Bytes(),
		Recipient: b.Recipient.Bytes(),
		Primitive: int(in.Primitive),
		U:         in.U,
		C:         in.C,
		Ubar:      in.Ubar,
		E:         in.E,
		F:         in.F,
	}, reply)
	if err != nil {
		return fhe.Handle{}, nil, xerrors.Errorf("verifying input: %v", err)
	}
	h, err := fhe.HandleFromBytes(reply.Handle)
	if err != nil {
		return fhe.Handle{}, nil, err
	}
	if err := fhe.InputProof(reply.Proof).Verify(cipherscore.Suite,
		keys.Signing, h, b); err != nil {
		return fhe.Handle{}, nil, xerrors.Errorf("service returned: %v", err)
	}
	return h, reply.Proof, nil
}

// UserDecrypt sends all handles in a single request.
func (c *Client) UserDecrypt(ctx context.Context, handles []fhe.Handle,
	auth *fhe.Authorization) ([]fhe.ShareResult, error) {
	req := &UserDecrypt{
		Subject:        auth.Subject.Bytes(),
		PublicKey:      auth.Request.PublicKey,
		ChainID:        auth.Request.ChainID,
		StartTimestamp: auth.Request.StartTimestamp,
		DurationDays:   auth.Request.DurationDays,
		Signature:      auth.Signature,
	}
	for _, h := range handles {
		req.Handles = append(req.Handles, h.Slice())
	}
	for _, ct := range auth.Request.Contracts {
		req.Contracts = append(req.Contracts, ct.Bytes())
	}

	reply := &UserDecryptReply{}
	if err := c.send(ctx, req, reply); err != nil {
		return nil, xerrors.Errorf("user decryption: %v", err)
	}
	if reply.Refused != "" {
		return nil, xerrors.Errorf("%s: %w", reply.Refused,
			fhe.ErrAuthorizationRefused)
	}
	if len(reply.Shares) != len(handles) {
		return nil, xerrors.Errorf("got %d shares for %d handles",
			len(reply.Shares), len(handles))
	}

	results := make([]fhe.ShareResult, len(reply.Shares))
	for i, sr := range reply.Shares {
		h, err := fhe.HandleFromBytes(sr.Handle)
		if err != nil || h != handles[i] {
			results[i] = fhe.ShareResult{Handle: handles[i],
				Reason: fhe.ReasonInvalidShare}
			continue
		}
		results[i] = fhe.ShareResult{Handle: h, Reason: sr.Reason}
		if sr.Reason == fhe.ReasonNone {
			results[i].Share = &fhe.Share{U: sr.U, C: sr.C}
		}
	}
	return results, nil
}

// send runs the blocking onet request and gives up waiting when ctx is done.
func (c *Client) send(ctx context.Context, msg, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- c.SendProtobuf(c.server, msg, reply)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ fhe.Runtime = (*Client)(nil)
