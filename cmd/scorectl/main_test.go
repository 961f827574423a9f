package main

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cipherscore/wallet"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func run(t *testing.T, dir string, args ...string) (string, error) {
	var out bytes.Buffer
	cliApp.Writer = &out
	err := cliApp.Run(append([]string{"scorectl", "-c", dir}, args...))
	log.Lvl2(out.String())
	return out.String(), err
}

func TestCli_RoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "scorectl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = run(t, dir, "submit", "1")
	require.Error(t, err)

	out, err := run(t, dir, "init")
	require.NoError(t, err)
	require.Contains(t, out, "Player: 0x")

	for _, v := range []string{"1024", "2048", "4096"} {
		out, err = run(t, dir, "-y", "submit", v)
		require.NoError(t, err)
		require.Contains(t, out, "Encrypted score ("+v+") recorded!")
	}

	out, err = run(t, dir, "history")
	require.NoError(t, err)
	require.Contains(t, out, "3 encrypted score(s)")

	out, err = run(t, dir, "-y", "decrypt")
	require.NoError(t, err)
	require.Contains(t, out, "  0: 1024\n  1: 2048\n  2: 4096\n")

	// The authorization has been stored, no prompt this time.
	out, err = run(t, dir, "decrypt")
	require.NoError(t, err)
	require.NotContains(t, out, "Approve?")

	out, err = run(t, dir, "kms", "keys")
	require.NoError(t, err)
	require.Contains(t, out, "Signing:")

	_, err = run(t, dir, "-y", "submit", "4294967296")
	require.Error(t, err)
	_, err = run(t, dir, "history", "--player", "nope")
	require.Error(t, err)
}

func TestCli_Declined(t *testing.T) {
	dir, err := ioutil.TempDir("", "scorectl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	defer func(old io.Reader) { stdin = old }(stdin)

	_, err = run(t, dir, "init")
	require.NoError(t, err)
	stdin = strings.NewReader("n\n")
	out, err := run(t, dir, "submit", "12")
	require.Error(t, err)
	require.Contains(t, out, "Approve? [y/N]")
	require.Contains(t, out, "Nothing was recorded")

	out, err = run(t, dir, "history")
	require.NoError(t, err)
	require.Contains(t, out, "0 encrypted score(s)")
}

func TestConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "scorectl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = loadConfig(dir)
	require.Error(t, err)

	cfg := defaultConfig()
	cfg.RPCURL = "http://localhost:8545"
	cfg.ConfirmTimeoutSeconds = 5
	require.NoError(t, cfg.save(dir))
	cfg2, err := loadConfig(dir)
	require.NoError(t, err)
	require.Equal(t, cfg, cfg2)
	require.Equal(t, "5s", cfg2.confirmTimeout().String())

	key, err := loadKey(dir, false)
	require.Error(t, err)
	require.Nil(t, key)
	key, err = loadKey(dir, true)
	require.NoError(t, err)
	key2, err := loadKey(dir, false)
	require.NoError(t, err)
	require.Equal(t, key.D, key2.D)
}

func TestTerminal(t *testing.T) {
	var out bytes.Buffer
	p := wallet.Prompt{Kind: wallet.PromptTransaction, Summary: "test"}

	require.NoError(t, newTerminal(strings.NewReader("y\n"), &out, false).
		Approve(context.Background(), p))
	require.True(t, xerrors.Is(newTerminal(strings.NewReader("\n"), &out, false).
		Approve(context.Background(), p), wallet.ErrDeclined))
	require.NoError(t, newTerminal(strings.NewReader(""), &out, true).
		Approve(context.Background(), p))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	require.Error(t, newTerminal(r, &out, false).Approve(ctx, p))
}
