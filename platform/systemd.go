// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package platform

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/canonical/go-tpm2"

	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/tpmpolicy"
)

// SystemdPolicyEntry is one signed-policy record within a systemd-boot
// `.pcrsig`/`.pcrlock` document: the PCR indices it covers, a fingerprint
// of the signing key, the PCR policy digest it authorizes, and the
// signature over that digest.
type SystemdPolicyEntry struct {
	PCRs            []int
	PublicKeyFprHex string
	PolicyDigestHex string
	SignatureBase64 string
}

// SystemdDocument is the full signed-policy document: one entry list per
// hash algorithm name (e.g. "sha256"), mirroring systemd-boot's own
// layout of grouping entries by PCR bank.
type SystemdDocument map[string][]SystemdPolicyEntry

type systemdWireEntry struct {
	PCRs []int  `json:"pcrs"`
	PKFP string `json:"pkfp"`
	Pol  string `json:"pol"`
	Sig  string `json:"sig"`
}

// pcrMaskIndices returns, in increasing order, the PCR indices set in
// mask, starting at bit 0. The original systemd-boot parser walks this
// mask starting at bit 1, silently skipping PCR 0; this adapter does not
// reproduce that off-by-one.
func pcrMaskIndices(mask uint32) []int {
	var indices []int
	for i := 0; i < pcrbank.MaxRegisters; i++ {
		if mask&(1<<uint(i)) != 0 {
			indices = append(indices, i)
		}
	}
	return indices
}

// WriteSystemdDocument marshals doc into the JSON object systemd-boot
// reads at boot to authorize a TPM2_PolicyAuthorize-backed measurement
// policy, keyed by algorithm name.
func WriteSystemdDocument(doc SystemdDocument) ([]byte, error) {
	wire := make(map[string][]systemdWireEntry, len(doc))
	for algo, entries := range doc {
		wireEntries := make([]systemdWireEntry, 0, len(entries))
		for _, e := range entries {
			wireEntries = append(wireEntries, systemdWireEntry{
				PCRs: e.PCRs,
				PKFP: e.PublicKeyFprHex,
				Pol:  e.PolicyDigestHex,
				Sig:  e.SignatureBase64,
			})
		}
		wire[algo] = wireEntries
	}
	return json.Marshal(wire)
}

// ReadSystemdDocument parses a signed-policy document written by
// WriteSystemdDocument or by systemd-boot's own signing tooling.
func ReadSystemdDocument(data []byte) (SystemdDocument, error) {
	var wire map[string][]systemdWireEntry
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("platform: unmarshal systemd policy document: %w", err)
	}

	doc := make(SystemdDocument, len(wire))
	for algo, entries := range wire {
		parsed := make([]SystemdPolicyEntry, 0, len(entries))
		for _, e := range entries {
			parsed = append(parsed, SystemdPolicyEntry{
				PCRs:            e.PCRs,
				PublicKeyFprHex: e.PKFP,
				PolicyDigestHex: e.Pol,
				SignatureBase64: e.Sig,
			})
		}
		doc[algo] = parsed
	}
	return doc, nil
}

// findOrCreateEntry returns the index within doc[algoName] of the entry
// whose Pol hex matches polHex (case-insensitive), appending a new entry
// holding just that Pol value if none matches. Mirrors
// sdb_policy_find_or_create_entry's match-by-pol, append-if-absent
// behavior, which is what makes repeated calls with the same policy
// idempotent instead of accumulating duplicate entries.
func findOrCreateEntry(doc SystemdDocument, algoName, polHex string) int {
	entries := doc[algoName]
	for i, e := range entries {
		if strings.EqualFold(e.PolicyDigestHex, polHex) {
			return i
		}
	}

	entries = append(entries, SystemdPolicyEntry{PolicyDigestHex: polHex})
	doc[algoName] = entries
	return len(entries) - 1
}

// AppendSystemdEntry computes bank's PCR policy digest, signs it with
// priv, and upserts the resulting entry into doc under algoName: an
// existing entry with the same policy digest has its PCRs/fingerprint/
// signature overwritten in place rather than growing a duplicate, so
// calling this repeatedly with the same bank and key is idempotent. The
// public-key fingerprint is priv's public key's TPM Name, matching the
// fingerprint form the old-grub external-signature path already computes
// with tpmpolicy.PublicKeyName.
func AppendSystemdEntry(doc SystemdDocument, algoName string, tpm tpmpolicy.TPMContext, bank *pcrbank.Bank, priv *rsa.PrivateKey) error {
	policyDigest, err := tpmpolicy.PCRPolicyDigest(tpm, bank)
	if err != nil {
		return err
	}

	sig, err := tpmpolicy.SignPolicy(priv, policyDigest)
	if err != nil {
		return err
	}

	keyName, err := tpmpolicy.PublicKeyName(&priv.PublicKey)
	if err != nil {
		return err
	}

	polHex := hex.EncodeToString(policyDigest)
	idx := findOrCreateEntry(doc, algoName, polHex)
	doc[algoName][idx] = SystemdPolicyEntry{
		PCRs:            pcrMaskIndices(bank.Mask),
		PublicKeyFprHex: hex.EncodeToString(keyName),
		PolicyDigestHex: polHex,
		SignatureBase64: base64.StdEncoding.EncodeToString(sigBytes(sig)),
	}
	return nil
}

// sigBytes extracts the raw RSASSA signature bytes from a TPM signature
// structure, the form systemd-boot's JSON document stores.
func sigBytes(sig *tpm2.Signature) []byte {
	if sig == nil || sig.Signature == nil || sig.Signature.RSASSA == nil {
		return nil
	}
	return sig.Signature.RSASSA.Sig
}
