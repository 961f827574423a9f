package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.dedis.ch/cipherscore/wallet"
)

// terminal asks the user on in to approve every prompt of the wallet.
type terminal struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

func newTerminal(in io.Reader, out io.Writer, yes bool) *terminal {
	return &terminal{in: bufio.NewReader(in), out: out, yes: yes}
}

// Approve implements wallet.Approver.
func (t *terminal) Approve(ctx context.Context, p wallet.Prompt) error {
	if t.yes {
		fmt.Fprintf(t.out, "Approved: %s\n", p)
		return nil
	}
	fmt.Fprintf(t.out, "%s\nApprove? [y/N] ", p)

	answer := make(chan string, 1)
	go func() {
		line, _ := t.in.ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case a := <-answer:
		if a == "y" || a == "yes" {
			return nil
		}
		return wallet.ErrDeclined
	case <-ctx.Done():
		return ctx.Err()
	}
}
