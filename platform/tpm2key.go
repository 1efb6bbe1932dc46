// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package platform

import (
	"encoding/asn1"
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/suse-edge/pcrseal/tpmpolicy"
)

// tpmOwnerHandle is TPM2_RH_OWNER, the parent hierarchy every Key File
// this adapter produces names.
const tpmOwnerHandle = 0x40000001

// tssOptPolicy is one TPM2_PolicyXXX assertion recorded in a Key File's
// unauthenticated policy sequence: the command that was run and its
// marshalled command parameters, replayed verbatim at unseal time.
type tssOptPolicy struct {
	CommandCode   int
	CommandPolicy []byte
}

// tssAuthPolicy is one named authenticated policy branch: a sequence of
// tssOptPolicy assertions that, replayed in order, produce the policy
// digest authorized under name.
type tssAuthPolicy struct {
	Name   string `asn1:"utf8"`
	Policy []tssOptPolicy
}

// tssPrivKey is the ASN.1 DER structure of a TPM 2.0 Key File, as the
// systemd/OpenSSL TSS2 engine ecosystem defines it: an OID identifying the
// key type, an emptyAuth flag, an optional flat policy sequence, an
// optional set of named authenticated policy branches, the parent handle,
// and the marshalled TPM2B_PUBLIC/TPM2B_PRIVATE pair.
type tssPrivKey struct {
	Type       asn1.ObjectIdentifier
	EmptyAuth  bool            `asn1:"optional"`
	Policy     []tssOptPolicy  `asn1:"optional,tag:0"`
	AuthPolicy []tssAuthPolicy `asn1:"optional,tag:1"`
	Parent     int
	PubKey     []byte
	PrivKey    []byte
}

// tssKeyTypeSealedData is the TSS2 OID for a sealed-data (KEYED_HASH)
// object, the only key type this tool's sealed secrets use.
var tssKeyTypeSealedData = asn1.ObjectIdentifier{2, 23, 133, 10, 1, 5}

// WriteTPM2Key encodes blob as a TPM 2.0 Key File, with policy holding the
// raw PolicyPCR command parameters (pcrDigest, selection) that authorize
// it. Named authenticated branches are not produced by this tool; it only
// ever writes the flat, unauthenticated policy form.
func WriteTPM2Key(blob *tpmpolicy.SealedBlob, policy []tpmpolicy.PolicySequenceEntry) ([]byte, error) {
	pub, err := mu.MarshalToBytes(mu.Sized(blob.Public))
	if err != nil {
		return nil, fmt.Errorf("platform: marshal TPM2B_PUBLIC: %w", err)
	}
	priv, err := mu.MarshalToBytes(mu.Sized(blob.Private))
	if err != nil {
		return nil, fmt.Errorf("platform: marshal TPM2B_PRIVATE: %w", err)
	}

	key := tssPrivKey{
		Type:      tssKeyTypeSealedData,
		EmptyAuth: true,
		Parent:    tpmOwnerHandle,
		PubKey:    pub,
		PrivKey:   priv,
	}
	for _, entry := range policy {
		key.Policy = append(key.Policy, tssOptPolicy{
			CommandCode:   int(entry.CommandCode),
			CommandPolicy: entry.CommandPolicy,
		})
	}

	data, err := asn1.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("platform: marshal TPM 2.0 Key File: %w", err)
	}
	return data, nil
}

// ReadTPM2Key parses a TPM 2.0 Key File produced by WriteTPM2Key (or by
// any compatible TSS2 tool), returning the sealed blob and its flat
// unauthenticated policy sequence. Named authenticated (authPolicy)
// branches are decoded with the rest of the file but are not returned;
// this tool's own unseal path only replays the flat sequence.
func ReadTPM2Key(data []byte) (*tpmpolicy.SealedBlob, []tpmpolicy.PolicySequenceEntry, error) {
	var key tssPrivKey
	if _, err := asn1.Unmarshal(data, &key); err != nil {
		return nil, nil, fmt.Errorf("platform: unmarshal TPM 2.0 Key File: %w", err)
	}

	var public *tpm2.Public
	if _, err := mu.UnmarshalFromBytes(key.PubKey, mu.Sized(&public)); err != nil {
		return nil, nil, fmt.Errorf("platform: unmarshal TPM2B_PUBLIC: %w", err)
	}
	var private tpm2.Private
	if _, err := mu.UnmarshalFromBytes(key.PrivKey, mu.Sized(&private)); err != nil {
		return nil, nil, fmt.Errorf("platform: unmarshal TPM2B_PRIVATE: %w", err)
	}

	sequence := make([]tpmpolicy.PolicySequenceEntry, 0, len(key.Policy))
	for _, p := range key.Policy {
		sequence = append(sequence, tpmpolicy.PolicySequenceEntry{
			CommandCode:   tpm2.CommandCode(p.CommandCode),
			CommandPolicy: p.CommandPolicy,
		})
	}

	return &tpmpolicy.SealedBlob{Public: public, Private: private}, sequence, nil
}

// UnsealTPM2Key replays key's flat policy sequence against a single policy
// session and unseals the resulting blob.
func UnsealTPM2Key(tpm tpmpolicy.TPMContext, algo tpm2.HashAlgorithmId, data []byte) ([]byte, error) {
	blob, sequence, err := ReadTPM2Key(data)
	if err != nil {
		return nil, err
	}
	if len(sequence) == 0 {
		return nil, fmt.Errorf("platform: TPM 2.0 Key File has no unauthenticated policy sequence to replay")
	}
	return tpmpolicy.UnsealPolicySequence(tpm, algo, blob, sequence)
}
