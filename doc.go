/*
Package cipherscore holds the shared pieces of an encrypted score ledger.

Players submit confidential integer scores to an append-only, per-player
ledger contract. Scores are encrypted for a given (contract, player) pair,
the resulting handle is appended to the player's history, and only the
player can later re-encrypt the history to a key of its own, after signing
a time-bounded authorization.

The sub-packages are:

	fhe        handles, primitives, encrypted inputs, proofs and authorizations
	kms        the reference runtime holding the network keys (onet service)
	wallet     the signing provider
	ledger     the ledger contract client, simchain is an in-process chain
	encrypt    the encryption request builder
	authcache  the decryption authorization cache
	decrypt    the batched decryption orchestrator
	submit     the per-player submission state machine
	session    the API exposed to user interfaces
	cmd/scorectl  the command line client

This package defines the error taxonomy shared by all of them and the
cryptographic suite.
*/
package cipherscore
