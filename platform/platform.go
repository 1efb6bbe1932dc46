// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package platform serializes sealed secrets and signed policies into the
// three on-disk container formats this tool's consumers expect: the
// legacy grub2 raw-TPM2B pair, the ASN.1 TPM 2.0 Key File, and systemd's
// JSON signed-policy document.
package platform

// Capability is one of the requirements a platform adapter places on its
// caller.
type Capability int

const (
	NeedsInputFile Capability = iota
	NeedsOutputFile
	NeedsPCRSelection
)

// Name identifies one of the three adapters by the name used at the
// configuration boundary (spec §6's `target_platform`).
type Name string

const (
	OldGrub Name = "oldgrub"
	TPM20   Name = "tpm2.0"
	Systemd Name = "systemd"
)

// Capabilities reports the capability set of the named adapter.
func Capabilities(name Name) ([]Capability, bool) {
	switch name {
	case OldGrub:
		return []Capability{NeedsInputFile, NeedsOutputFile, NeedsPCRSelection}, true
	case TPM20:
		return []Capability{NeedsInputFile, NeedsOutputFile}, true
	case Systemd:
		return []Capability{NeedsOutputFile}, true
	default:
		return nil, false
	}
}
