package kms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"
)

func TestService_RoundTrip(t *testing.T) {
	local := onet.NewTCPTest(cipherscore.Suite)
	defer local.CloseAll()
	_, roster, _ := local.GenTree(1, true)

	c := NewClient(roster.List[0])
	ctx := context.Background()
	alice, bob := newPlayer(t), newPlayer(t)

	keys, err := c.PublicKeys(ctx)
	require.NoError(t, err)
	require.NotNil(t, keys.Encryption)

	var handles []fhe.Handle
	for _, v := range []uint64{1024, 2048, 4096} {
		h, proof, err := c.Encrypt(ctx, alice.binding(), fhe.Uint32, v)
		require.NoError(t, err)
		require.NoError(t, proof.Verify(cipherscore.Suite, keys.Signing, h,
			alice.binding()))
		handles = append(handles, h)
	}
	hb, _, err := c.Encrypt(ctx, bob.binding(), fhe.Uint32, 1)
	require.NoError(t, err)

	auth := alice.authorize(t, time.Now())
	res, err := c.UserDecrypt(ctx, append(handles, hb), auth)
	require.NoError(t, err)
	require.Len(t, res, 4)
	for i, v := range []uint64{1024, 2048, 4096} {
		require.Equal(t, handles[i], res[i].Handle)
		require.Equal(t, v, open(t, auth, res[i]))
	}
	require.True(t, xerrors.Is(res[3].Err(), fhe.ErrAccessDenied))

	auth.Subject = bob.addr
	_, err = c.UserDecrypt(ctx, handles, auth)
	require.True(t, xerrors.Is(err, fhe.ErrAuthorizationRefused))
}

func TestService_Cancel(t *testing.T) {
	local := onet.NewTCPTest(cipherscore.Suite)
	defer local.CloseAll()
	_, roster, _ := local.GenTree(1, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(roster.List[0]).PublicKeys(ctx)
	require.Error(t, err)
}
