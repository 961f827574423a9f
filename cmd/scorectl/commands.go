package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/cipherscore"
	"go.dedis.ch/cipherscore/fhe"
	"go.dedis.ch/cipherscore/submit"
	"go.dedis.ch/cipherscore/wallet"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"
)

var cmds = cli.Commands{
	{
		Name:    "init",
		Usage:   "write the configuration and create a wallet",
		Aliases: []string{"i"},
		Flags: []cli.Flag{
			cli.Uint64Flag{
				Name:  "chain",
				Value: defaultConfig().ChainID,
				Usage: "chain id",
			},
			cli.StringFlag{
				Name:  "contract",
				Value: defaultConfig().Contract,
				Usage: "address of the score ledger contract",
			},
			cli.StringFlag{
				Name:  "rpc",
				Usage: "URL of an Ethereum node, empty for a simulated chain",
			},
			cli.StringFlag{
				Name:  "kms",
				Usage: "address of the conode running the FHE runtime, empty for in-process",
			},
			cli.StringFlag{
				Name:  "kms-public",
				Usage: "hex public key of the conode running the FHE runtime",
			},
			cli.IntFlag{
				Name:  "confirm-timeout",
				Value: defaultConfig().ConfirmTimeoutSeconds,
				Usage: "seconds to wait for the confirmation of a transaction",
			},
			cli.Int64Flag{
				Name:  "auth-days",
				Value: defaultConfig().AuthDurationDays,
				Usage: "validity of decryption authorizations in days",
			},
			cli.Uint64Flag{
				Name:  "gas-limit",
				Value: defaultConfig().GasLimit,
				Usage: "gas limit of the submissions",
			},
		},
		Action: initConfig,
	},
	{
		Name:      "submit",
		Usage:     "encrypt and record a score",
		Aliases:   []string{"s"},
		ArgsUsage: "<score>",
		Action:    submitScore,
	},
	{
		Name:    "history",
		Usage:   "list the encrypted scores of a player",
		Aliases: []string{"h"},
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "player",
				Usage: "address of the player, default is the own one",
			},
		},
		Action: showHistory,
	},
	{
		Name:      "decrypt",
		Usage:     "decrypt the own history, or the given handles",
		Aliases:   []string{"d"},
		ArgsUsage: "[<handle>...]",
		Action:    decryptScores,
	},
	{
		Name:  "kms",
		Usage: "inspect the FHE runtime",
		Subcommands: cli.Commands{
			{
				Name:   "keys",
				Usage:  "print the public keys of the runtime",
				Action: kmsKeys,
			},
		},
	},
}

func configDir(c *cli.Context) string {
	return c.GlobalString("config")
}

func openEnv(c *cli.Context) (*environment, error) {
	t := newTerminal(stdin, c.App.Writer, c.GlobalBool("yes"))
	return open(context.Background(), configDir(c), t)
}

func initConfig(c *cli.Context) error {
	cfg := &config{
		ChainID:               c.Uint64("chain"),
		Contract:              c.String("contract"),
		RPCURL:                c.String("rpc"),
		KMSAddress:            c.String("kms"),
		KMSPublic:             c.String("kms-public"),
		ConfirmTimeoutSeconds: c.Int("confirm-timeout"),
		AuthDurationDays:      c.Int64("auth-days"),
		GasLimit:              c.Uint64("gas-limit"),
	}
	if !common.IsHexAddress(cfg.Contract) {
		return xerrors.Errorf("invalid contract address '%s'", cfg.Contract)
	}
	if (cfg.KMSAddress == "") != (cfg.KMSPublic == "") {
		return xerrors.New("--kms and --kms-public go together")
	}
	dir := configDir(c)
	if err := cfg.save(dir); err != nil {
		return xerrors.Errorf("writing configuration: %v", err)
	}
	key, err := loadKey(dir, true)
	if err != nil {
		return err
	}
	w := wallet.New(key, nil)
	fmt.Fprintf(c.App.Writer, "Configuration written to %s\nPlayer: %s\n",
		dir, w.Address.Hex())
	return nil
}

func submitScore(c *cli.Context) error {
	if c.NArg() != 1 {
		return xerrors.New("please give the score to submit")
	}
	value, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return xerrors.Errorf("invalid score: %v", err)
	}
	env, err := openEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	env.session.Subscribe(func(st submit.Status) {
		if st.Message != "" {
			fmt.Fprintln(c.App.Writer, st.Message)
		}
	})
	out, err := env.session.SubmitScore(context.Background(), value)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Transaction %s, %d score(s) recorded\n",
		out.TxHash.Hex(), len(out.History))
	return nil
}

func showHistory(c *cli.Context) error {
	env, err := openEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	player := env.wallet.Account()
	if p := c.String("player"); p != "" {
		if !common.IsHexAddress(p) {
			return xerrors.Errorf("invalid player address '%s'", p)
		}
		player = common.HexToAddress(p)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	history, err := env.session.History(ctx, player)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d encrypted score(s) of %s\n", len(history),
		player.Hex())
	for i, h := range history {
		fmt.Fprintf(c.App.Writer, "%3d: %s\n", i, h)
	}
	return nil
}

func decryptScores(c *cli.Context) error {
	env, err := openEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	var handles []fhe.Handle
	if c.NArg() == 0 {
		handles, err = env.session.MyHistory(ctx)
		if err != nil {
			return err
		}
	}
	for _, arg := range c.Args() {
		h, err := fhe.HandleFromHex(arg)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	res, err := env.session.Decrypt(ctx, handles)
	if err != nil {
		return err
	}
	for i, h := range res.Order {
		if v, ok := res.Value(h); ok {
			fmt.Fprintf(c.App.Writer, "%3d: %d\n", i, v)
		} else {
			fmt.Fprintf(c.App.Writer, "%3d: %s failed: %v\n", i, h, res.Failures[h])
		}
	}
	if err := res.Err(); err != nil {
		log.Lvl1(err)
		if xerrors.Is(err, cipherscore.ErrDecryptionPartialFailure) {
			return xerrors.Errorf("%d handle(s) could not be decrypted",
				len(res.Failures))
		}
		return err
	}
	return nil
}

func kmsKeys(c *cli.Context) error {
	env, err := openEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	keys, err := env.runtime.PublicKeys(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Encryption: %s\nSigning:    %s\n",
		keys.Encryption, keys.Signing)
	return nil
}
