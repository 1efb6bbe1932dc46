// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/pcrbank"
)

// pcrSelectionOf turns a bank's mask into the tpm2.PCRSelectionList the
// TPM commands expect.
func pcrSelectionOf(bank *pcrbank.Bank) tpm2.PCRSelectionList {
	var indices []int
	for i := 0; i < pcrbank.MaxRegisters; i++ {
		if bank.Wants(i) {
			indices = append(indices, i)
		}
	}
	return tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmId(bank.Algo.ID), Select: indices}}
}

// synthesizePCRDigest hashes the concatenated register values of a bank's
// valid registers, in increasing index order — the value PolicyPCR
// expects as its expected-PCR-composite digest.
func synthesizePCRDigest(bank *pcrbank.Bank) (digest.Digest, error) {
	h := bank.Algo.New()
	if h == nil {
		return digest.Digest{}, fmt.Errorf("tpmpolicy: no hash implementation for %s", bank.Algo.Name)
	}

	for i := 0; i < pcrbank.MaxRegisters; i++ {
		if !bank.Wants(i) {
			continue
		}
		if !bank.RegisterValid(i) {
			return digest.Digest{}, fmt.Errorf("tpmpolicy: PCR %d has no recorded value", i)
		}
		d, err := bank.Get(i)
		if err != nil {
			return digest.Digest{}, err
		}
		h.Write(d.Bytes)
	}

	return digest.Digest{Algo: bank.Algo, Bytes: h.Sum(nil)}, nil
}

// PCRPolicyDigest computes the policy digest a PolicyPCR assertion over
// bank's selected, valid registers would produce: start a TRIAL session,
// assert PolicyPCR against the synthesized composite, and read back the
// resulting policy digest. bank's registers need not come from a live
// TPM read — a replayed/predicted bank works identically, which is the
// entire point of this package.
func PCRPolicyDigest(tpm TPMContext, bank *pcrbank.Bank) (tpm2.Digest, error) {
	pcrDigest, err := synthesizePCRDigest(bank)
	if err != nil {
		return nil, err
	}

	session, done, err := startTrialSession(tpm, tpm2.HashAlgorithmId(bank.Algo.ID))
	if err != nil {
		return nil, err
	}
	defer done()

	selection := pcrSelectionOf(bank)
	if err := tpm.PolicyPCR(session, pcrDigest.Bytes, selection); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyPCR: %w", err)
	}

	policyDigest, err := tpm.PolicyGetDigest(session)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyGetDigest: %w", err)
	}
	return policyDigest, nil
}

// BuildPCRPolicyEntry marshals bank's synthesized PCR digest and
// selection into a PolicySequenceEntry a TPM 2.0 Key File's flat `policy`
// array can carry — the counterpart UnsealPolicySequence decodes when it
// sees a CommandPolicyPCR entry.
func BuildPCRPolicyEntry(bank *pcrbank.Bank) (PolicySequenceEntry, error) {
	pcrDigest, err := synthesizePCRDigest(bank)
	if err != nil {
		return PolicySequenceEntry{}, err
	}

	data, err := mu.MarshalToBytes(tpm2.Digest(pcrDigest.Bytes), pcrSelectionOf(bank))
	if err != nil {
		return PolicySequenceEntry{}, fmt.Errorf("tpmpolicy: marshal PolicyPCR sequence entry: %w", err)
	}

	return PolicySequenceEntry{CommandCode: tpm2.CommandPolicyPCR, CommandPolicy: data}, nil
}

// AuthorizedPolicyDigest computes the authPolicy template a sealed object
// is created with when it will be authorized by signed PCR policies
// rather than a fixed PolicyPCR assertion. TPM2_PolicyAuthorize resets the
// session digest to H(0 || keySign.Name || policyRef) regardless of the
// approvedPolicy value passed in, so this template depends only on
// pubKeyName — not on any PCR bank — and never needs recomputing as
// predicted PCR values change. A zero-initialized bank is used only to
// synthesize a placeholder approvedPolicy value to feed the trial
// PolicyPCR/PolicyAuthorize chain; its content is immaterial to the
// result, consistent with the TPM's own policy digest formula.
func AuthorizedPolicyDigest(tpm TPMContext, selection pcrbank.Selection, pubKeyName tpm2.Name) (tpm2.Digest, error) {
	zeroBank := pcrbank.New(selection.Algo, selection.Mask)
	zeroBank.InitFromZero()

	placeholder, err := PCRPolicyDigest(tpm, zeroBank)
	if err != nil {
		return nil, err
	}

	session, done, err := startTrialSession(tpm, tpm2.HashAlgorithmId(selection.Algo.ID))
	if err != nil {
		return nil, err
	}
	defer done()

	if err := tpm.PolicyAuthorize(session, placeholder, nil, pubKeyName, nil); err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyAuthorize: %w", err)
	}

	authorizedDigest, err := tpm.PolicyGetDigest(session)
	if err != nil {
		return nil, fmt.Errorf("tpmpolicy: PolicyGetDigest: %w", err)
	}
	return authorizedDigest, nil
}
