// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/suse-edge/pcrseal/pcrbank"
)

const maxSealedPlaintext = 128

// loadSRK creates a fresh Storage Root Key primary under the Owner
// hierarchy using the current srkTemplate, returning a function to flush
// it. The primary is never persisted: this package recreates it for each
// operation, matching the original tool's own behaviour of deriving the
// SRK afresh rather than relying on a pre-provisioned persistent handle.
func loadSRK(tpm TPMContext) (tpm2.ResourceContext, func(), error) {
	srk, _, _, _, _, err := tpm.CreatePrimary(tpm.OwnerHandleContext(), nil, srkTemplate(), nil, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("tpmpolicy: CreatePrimary (SRK): %w", err)
	}
	return srk, func() { tpm.FlushContext(srk) }, nil
}

// Seal creates a KEYED_HASH object holding plaintext (at most 128 bytes,
// the TPM's sealed-data limit) under a fresh SRK, with its authPolicy set
// to policyDigest — either a direct PCR policy or an authorized-policy
// digest from AuthorizedPolicyDigest.
func Seal(tpm TPMContext, policyDigest tpm2.Digest, plaintext []byte) (*SealedBlob, error) {
	if len(plaintext) > maxSealedPlaintext {
		return nil, fmt.Errorf("tpmpolicy: plaintext of %d bytes exceeds the %d byte sealed-data limit", len(plaintext), maxSealedPlaintext)
	}

	srk, done, err := loadSRK(tpm)
	if err != nil {
		return nil, err
	}
	defer done()

	sensitive := &tpm2.SensitiveCreate{Data: plaintext}
	private, public, _, _, _, err := tpm.Create(srk, sensitive, keyedHashTemplate(policyDigest), nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: Create (sealed object): %w", err)
	}

	return &SealedBlob{Public: public, Private: private}, nil
}

// loadSealed loads blob under a fresh SRK, returning the object context
// and a function that flushes both the object and the SRK, in that order.
func loadSealed(tpm TPMContext, blob *SealedBlob) (tpm2.ResourceContext, func(), error) {
	srk, doneSRK, err := loadSRK(tpm)
	if err != nil {
		return nil, nil, err
	}

	obj, err := tpm.Load(srk, blob.Private, blob.Public, nil)
	if err != nil {
		doneSRK()
		return nil, nil, fmt.Errorf("tpmpolicy: Load (sealed object): %w", err)
	}

	return obj, func() {
		tpm.FlushContext(obj)
		doneSRK()
	}, nil
}

// UnsealSecret unseals blob using a direct PCR policy: load the sealed
// object, start a real POLICY session, assert PolicyPCR against bank's
// current values, then Unseal.
func UnsealSecret(tpm TPMContext, bank *pcrbank.Bank, blob *SealedBlob) ([]byte, error) {
	obj, doneObj, err := loadSealed(tpm, blob)
	if err != nil {
		return nil, err
	}
	defer doneObj()

	pcrDigest, err := synthesizePCRDigest(bank)
	if err != nil {
		return nil, err
	}

	session, doneSession, err := startPolicySession(tpm, tpm2.HashAlgorithmId(bank.Algo.ID))
	if err != nil {
		return nil, err
	}
	defer doneSession()

	if err := tpm.PolicyPCR(session, pcrDigest.Bytes, pcrSelectionOf(bank)); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyPCR: %w", err)
	}

	data, err := tpm.Unseal(obj, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMismatch, err)
	}
	return data, nil
}

// UnsealAuthorized unseals blob using an authorized policy: PolicyPCR
// against bank, then verify policy's signature over the resulting PCR
// policy digest and fold the verification ticket into PolicyAuthorize
// before unsealing.
func UnsealAuthorized(tpm TPMContext, bank *pcrbank.Bank, keyContext tpm2.ResourceContext, policy *AuthorizedPolicy, blob *SealedBlob) ([]byte, error) {
	obj, doneObj, err := loadSealed(tpm, blob)
	if err != nil {
		return nil, err
	}
	defer doneObj()

	pcrDigest, err := synthesizePCRDigest(bank)
	if err != nil {
		return nil, err
	}

	session, doneSession, err := startPolicySession(tpm, tpm2.HashAlgorithmId(bank.Algo.ID))
	if err != nil {
		return nil, err
	}
	defer doneSession()

	if err := tpm.PolicyPCR(session, pcrDigest.Bytes, pcrSelectionOf(bank)); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyPCR: %w", err)
	}

	current, err := tpm.PolicyGetDigest(session)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyGetDigest: %w", err)
	}

	ticket, err := tpm.VerifySignature(keyContext, current, policy.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature verification failed: %v", ErrPolicyMismatch, err)
	}

	if err := tpm.PolicyAuthorize(session, current, nil, keyContext.Name(), ticket); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyAuthorize: %w", err)
	}

	data, err := tpm.Unseal(obj, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMismatch, err)
	}
	return data, nil
}

// UnsealAuthorizedExternal unseals blob using an authorized policy whose
// signing key never touches this TPM: the signature is verified host-side
// against the live PCR policy digest, and PolicyAuthorize is then given a
// null-hierarchy ticket, which TPM2_PolicyAuthorize accepts as "caller
// already verified this" instead of a TPM-issued TkVerified. This is the
// old-grub external-signature path, where the signature and public key
// arrive as detached files rather than objects loaded into the TPM.
func UnsealAuthorizedExternal(tpm TPMContext, bank *pcrbank.Bank, policy *AuthorizedPolicy, blob *SealedBlob) ([]byte, error) {
	obj, doneObj, err := loadSealed(tpm, blob)
	if err != nil {
		return nil, err
	}
	defer doneObj()

	pcrDigest, err := synthesizePCRDigest(bank)
	if err != nil {
		return nil, err
	}

	session, doneSession, err := startPolicySession(tpm, tpm2.HashAlgorithmId(bank.Algo.ID))
	if err != nil {
		return nil, err
	}
	defer doneSession()

	if err := tpm.PolicyPCR(session, pcrDigest.Bytes, pcrSelectionOf(bank)); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyPCR: %w", err)
	}

	current, err := tpm.PolicyGetDigest(session)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyGetDigest: %w", err)
	}

	if err := VerifyPolicySignature(policy.SigningKey, current, policy.Signature); err != nil {
		return nil, err
	}

	keyName, err := PublicKeyName(policy.SigningKey)
	if err != nil {
		return nil, err
	}

	if err := tpm.PolicyAuthorize(session, current, nil, keyName, nil); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyAuthorize: %w", err)
	}

	data, err := tpm.Unseal(obj, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMismatch, err)
	}
	return data, nil
}

// UnsealPolicySequence unseals blob by replaying a TPM 2.0 Key File's
// `policy` or `authPolicy` array against a single POLICY session, before
// the final Unseal. Only PolicyPCR entries are replayed, in order; a
// PolicyAuthorize entry (or any other command) makes it return an error
// without unsealing. Multiple sequences may be tried in turn by calling
// this once per sequence; the first success wins.
func UnsealPolicySequence(tpm TPMContext, algo tpm2.HashAlgorithmId, blob *SealedBlob, sequence []PolicySequenceEntry) ([]byte, error) {
	srk, doneSRK, err := loadSRK(tpm)
	if err != nil {
		return nil, err
	}
	defer doneSRK()

	obj, err := tpm.Load(srk, blob.Private, blob.Public, nil)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: Load (sealed object): %w", err)
	}
	defer tpm.FlushContext(obj)

	session, doneSession, err := startPolicySession(tpm, algo)
	if err != nil {
		return nil, err
	}
	defer doneSession()

	for _, entry := range sequence {
		switch entry.CommandCode {
		case tpm2.CommandPolicyPCR:
			var pcrDigest tpm2.Digest
			var pcrs tpm2.PCRSelectionList
			if _, err := mu.UnmarshalFromBytes(entry.CommandPolicy, &pcrDigest, &pcrs); err != nil {
				return nil, fmt.Errorf("tpmpolicy: malformed PolicyPCR sequence entry: %w", err)
			}
			if err := tpm.PolicyPCR(session, pcrDigest, pcrs); err != nil {
				return nil, fmt.Errorf("tpmpolicy: PolicyPCR from sequence: %w", err)
			}
		case tpm2.CommandPolicyAuthorize:
			return nil, fmt.Errorf("tpmpolicy: PolicyAuthorize sequence entries require the authorized-policy unseal path, not the raw sequence replay")
		default:
			return nil, fmt.Errorf("%w: unsupported policy sequence command %v", ErrUnsupportedAlgo, entry.CommandCode)
		}
	}

	data, err := tpm.Unseal(obj, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyMismatch, err)
	}
	return data, nil
}
