// Scorectl submits encrypted scores to the score ledger and decrypts the
// history of the player.
//
// Without RPC URL and KMS address in the configuration, both the chain and
// the FHE runtime run in-process on the database of the configuration
// directory, which is enough to try the whole round trip:
//
//	scorectl init
//	scorectl submit 2048
//	scorectl decrypt
package main

import (
	"io"
	"os"

	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	cli "gopkg.in/urfave/cli.v1"
)

var cliApp = cli.NewApp()

// getDataPath is a function pointer so that tests can hook and modify this.
var getDataPath = cfgpath.GetDataPath

var gitTag = "dev"

// stdin is where the wallet prompts are answered.
var stdin io.Reader = os.Stdin

func init() {
	cliApp.Name = "scorectl"
	cliApp.Usage = "Record encrypted scores and decrypt your own history."
	cliApp.Version = gitTag
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
		cli.StringFlag{
			Name:   "config, c",
			EnvVar: "SCORECTL_CONFIG",
			Value:  getDataPath(cliApp.Name),
			Usage:  "path to configuration-directory",
		},
		cli.BoolFlag{
			Name:  "yes, y",
			Usage: "approve all signatures without asking",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
}

func main() {
	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
