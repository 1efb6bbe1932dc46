// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package tpmpolicy drives go-tpm2 trial and policy sessions to turn a
// predicted PCR bank into a sealing policy, and to seal or unseal a secret
// under that policy. It talks to exactly one TPMContext for the lifetime
// of a process and guarantees every session or object handle it acquires
// is flushed again before returning, including on error paths.
package tpmpolicy

import (
	"crypto/rsa"
	"errors"

	"github.com/canonical/go-tpm2"

	"github.com/suse-edge/pcrseal/pcrbank"
)

// Error Kinds surfaced by this package. Other packages define their own
// sentinel errors for the Kinds relevant to them rather than sharing a
// central errors package.
var (
	ErrPolicyMismatch  = errors.New("tpmpolicy: policy digest does not match")
	ErrUnsupportedAlgo = errors.New("tpmpolicy: unsupported algorithm")
	ErrCryptoError     = errors.New("tpmpolicy: cryptographic operation failed")
	ErrUnavailable     = errors.New("tpmpolicy: TPM unavailable")
)

// SealedBlob is the two TSS MU objects a Create call produces: the public
// area and the (still TPM-wrapped) private area of a sealed KEYED_HASH
// object. It is opaque to every caller above this package except through
// the MU codec used to serialize it into a platform adapter's container.
type SealedBlob struct {
	Public  *tpm2.Public
	Private tpm2.Private
}

// AuthorizedPolicy is the data needed to re-verify and replay an
// authorized-policy assertion at unseal time: the PCR selection the policy
// was computed against, the public half of the signing key, the PCR policy
// digest that was signed, and the signature itself.
type AuthorizedPolicy struct {
	Selection       pcrbank.Selection
	SigningKey      *rsa.PublicKey
	PCRPolicyDigest tpm2.Digest
	Signature       *tpm2.Signature
}

// PolicySequenceEntry is one (CommandCode, CommandPolicy) pair from a
// TPM 2.0 Key File's `policy` or `authPolicy` array — see spec §6.
type PolicySequenceEntry struct {
	CommandCode   tpm2.CommandCode
	CommandPolicy []byte
}
