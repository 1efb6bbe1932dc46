// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package platform

import (
	"crypto/rsa"
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/tpmpolicy"
)

// WriteOldGrubSealedSecret concatenates blob's marshalled TPM2B_PUBLIC and
// TPM2B_PRIVATE, the container format the legacy grub2 TPM module reads
// directly as two back-to-back TSS MU structures.
func WriteOldGrubSealedSecret(blob *tpmpolicy.SealedBlob) ([]byte, error) {
	data, err := mu.MarshalToBytes(mu.Sized(blob.Public), mu.Sized(blob.Private))
	if err != nil {
		return nil, fmt.Errorf("platform: marshal sealed blob: %w", err)
	}
	return data, nil
}

// ReadOldGrubSealedSecret parses the concatenated TPM2B_PUBLIC/TPM2B_PRIVATE
// pair WriteOldGrubSealedSecret produces.
func ReadOldGrubSealedSecret(data []byte) (*tpmpolicy.SealedBlob, error) {
	var public *tpm2.Public
	var private tpm2.Private
	if _, err := mu.UnmarshalFromBytes(data, mu.Sized(&public), mu.Sized(&private)); err != nil {
		return nil, fmt.Errorf("platform: unmarshal sealed blob: %w", err)
	}
	return &tpmpolicy.SealedBlob{Public: public, Private: private}, nil
}

// WriteOldGrubSignedPolicy marshals a raw TPMT_SIGNATURE, the signed-policy
// container old-grub expects.
func WriteOldGrubSignedPolicy(sig *tpm2.Signature) ([]byte, error) {
	data, err := mu.MarshalToBytes(sig)
	if err != nil {
		return nil, fmt.Errorf("platform: marshal signature: %w", err)
	}
	return data, nil
}

// ReadOldGrubSignedPolicy parses a raw TPMT_SIGNATURE produced by
// WriteOldGrubSignedPolicy.
func ReadOldGrubSignedPolicy(data []byte) (*tpm2.Signature, error) {
	var sig *tpm2.Signature
	if _, err := mu.UnmarshalFromBytes(data, &sig); err != nil {
		return nil, fmt.Errorf("platform: unmarshal signature: %w", err)
	}
	return sig, nil
}

// UnsealOldGrub unseals blob directly against bank's current PCR policy,
// with no authorization layer.
func UnsealOldGrub(tpm tpmpolicy.TPMContext, bank *pcrbank.Bank, blob *tpmpolicy.SealedBlob) ([]byte, error) {
	return tpmpolicy.UnsealSecret(tpm, bank, blob)
}

// UnsealOldGrubAuthorized unseals blob using a detached signature file and
// a separate public-key file rather than the self-contained tpm2key/systemd
// forms — the external-signature unseal path supplementing spec.md, since
// old-grub sealed secrets and their authorizing signature travel as two
// independent files and the signing key never needs to be loaded into the
// TPM at all.
func UnsealOldGrubAuthorized(tpm tpmpolicy.TPMContext, bank *pcrbank.Bank, pub *rsa.PublicKey, sig *tpm2.Signature, blob *tpmpolicy.SealedBlob) ([]byte, error) {
	policy := &tpmpolicy.AuthorizedPolicy{
		Selection:  pcrbank.Selection{Algo: bank.Algo, Mask: bank.Mask},
		SigningKey: pub,
		Signature:  sig,
	}
	return tpmpolicy.UnsealAuthorizedExternal(tpm, bank, policy, blob)
}
