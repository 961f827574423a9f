package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestWallet_SignTx(t *testing.T) {
	w, err := Generate(nil)
	require.NoError(t, err)
	chainID := big.NewInt(31337)

	tx := types.NewTransaction(0, common.HexToAddress("0x01"), big.NewInt(0),
		300000, big.NewInt(1), []byte{1, 2, 3})
	signed, err := w.SignTx(context.Background(), tx, chainID)
	require.NoError(t, err)
	from, err := types.Sender(types.NewEIP155Signer(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, w.Address, from)
}

func TestWallet_FromHex(t *testing.T) {
	w, err := Generate(nil)
	require.NoError(t, err)
	w2, err := FromHex("0x"+w.PrivateHex(), nil)
	require.NoError(t, err)
	require.Equal(t, w.Address, w2.Address)

	_, err = FromHex("zz", nil)
	require.Error(t, err)
}

func TestWallet_SignAuthorization(t *testing.T) {
	var prompts []Prompt
	w, err := Generate(ApproverFunc(func(ctx context.Context, p Prompt) error {
		prompts = append(prompts, p)
		return nil
	}))
	require.NoError(t, err)

	req := &fhe.AuthorizationRequest{
		PublicKey:      []byte{1},
		Contracts:      []common.Address{common.HexToAddress("0x02")},
		ChainID:        1,
		StartTimestamp: time.Now().Unix(),
		DurationDays:   365,
	}
	sig, err := w.SignAuthorization(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, req.VerifySignature(w.Address, sig))
	require.Len(t, prompts, 1)
	require.Equal(t, PromptAuthorization, prompts[0].Kind)
	require.Equal(t, w.Address, prompts[0].Account)
}

func TestWallet_Declined(t *testing.T) {
	w, err := Generate(Decline)
	require.NoError(t, err)

	_, err = w.SignAuthorization(context.Background(), &fhe.AuthorizationRequest{})
	require.True(t, xerrors.Is(err, ErrDeclined))

	tx := types.NewTransaction(0, common.HexToAddress("0x01"), big.NewInt(0),
		21000, big.NewInt(1), nil)
	_, err = w.SignTx(context.Background(), tx, big.NewInt(1))
	require.True(t, xerrors.Is(err, ErrDeclined))
}

func TestWallet_Abandoned(t *testing.T) {
	// The operator never answers, the caller gives up.
	w, err := Generate(ApproverFunc(func(ctx context.Context, p Prompt) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.SignAuthorization(ctx, &fhe.AuthorizationRequest{})
	require.True(t, xerrors.Is(err, ErrDeclined))
	require.Contains(t, err.Error(), "deadline")
}
