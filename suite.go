package cipherscore

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the cryptographic suite used for ciphertexts, input proofs and
// the service identities.
var Suite = suites.MustFind("Ed25519")
