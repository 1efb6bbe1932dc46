// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package pcrbank tracks one bank of PCR registers — the 24 registers of
// a single digest algorithm — and extends them the way the TPM does,
// either starting from the all-zero reset state or from a live read of
// the running system's registers.
package pcrbank

import (
	"context"
	"fmt"

	"github.com/canonical/go-tpm2"

	"github.com/suse-edge/pcrseal/digest"
)

// MaxRegisters is the number of PCR registers in a bank.
const MaxRegisters = 24

// Selection names one bank (by algorithm) and the set of PCR indices of
// interest within it, the same pairing pcrsealctl's -algo and -pcrs flags
// describe.
type Selection struct {
	Algo *digest.AlgoInfo
	Mask uint32
}

// Bank is a simulated set of PCR registers for one digest algorithm.
type Bank struct {
	Algo  *digest.AlgoInfo
	Mask  uint32 // PCRs of interest
	Valid uint32 // PCRs that have been initialized
	pcr   [MaxRegisters]digest.Digest
}

// New returns a Bank for algo tracking the PCRs named by mask.
func New(algo *digest.AlgoInfo, mask uint32) *Bank {
	return &Bank{Algo: algo, Mask: mask}
}

// Wants reports whether index is one of the registers this bank tracks.
func (b *Bank) Wants(index int) bool {
	if index < 0 || index >= MaxRegisters {
		return false
	}
	return b.Mask&(1<<uint(index)) != 0
}

func (b *Bank) markValid(index int) {
	b.Valid |= 1 << uint(index)
}

// RegisterValid reports whether register index has been initialized.
func (b *Bank) RegisterValid(index int) bool {
	return b.Valid&(1<<uint(index)) != 0
}

// Get returns the current value of register index.
func (b *Bank) Get(index int) (digest.Digest, error) {
	if index < 0 || index >= MaxRegisters {
		return digest.Digest{}, fmt.Errorf("pcrbank: invalid PCR index %d", index)
	}
	return b.pcr[index], nil
}

// InitFromZero sets every wanted register to DigestSize zero bytes, the
// TPM's state immediately after a platform reset.
func (b *Bank) InitFromZero() {
	zero := make([]byte, b.Algo.DigestSize)
	for i := 0; i < MaxRegisters; i++ {
		if !b.Wants(i) {
			continue
		}
		b.pcr[i] = digest.Digest{Algo: b.Algo, Bytes: append([]byte(nil), zero...)}
		b.markValid(i)
	}
}

// SetLocality seeds register 0 with the locality-specific reset value
// DL(locality) the TPM uses instead of all-zero when a StartupLocality
// event was recorded: the digest of a single byte holding the locality
// number.
func (b *Bank) SetLocality(index int, locality uint8) error {
	if !b.Wants(index) {
		return nil
	}
	d, err := digest.Compute(b.Algo, []byte{locality})
	if err != nil {
		return err
	}
	b.pcr[index] = d
	b.markValid(index)
	return nil
}

// Extend folds next into register index the way the TPM does:
// PCR[index] = H(PCR[index] || next).
func (b *Bank) Extend(index int, next []byte) error {
	if index < 0 || index >= MaxRegisters {
		return fmt.Errorf("pcrbank: invalid PCR index %d", index)
	}
	if !b.Wants(index) {
		return nil
	}
	if !b.RegisterValid(index) {
		return fmt.Errorf("pcrbank: PCR %d extended before being initialized", index)
	}

	d, err := digest.Extend(b.Algo, b.pcr[index].Bytes, next)
	if err != nil {
		return err
	}
	b.pcr[index] = d
	return nil
}

// TPMContext is the subset of go-tpm2's TPMContext that InitFromCurrent
// needs: a live PCR read.
type TPMContext interface {
	PCRRead(pcrSelectionIn tpm2.PCRSelectionList, sessions ...tpm2.SessionContext) (updateCounter uint32, pcrValues tpm2.PCRValues, err error)
}

// InitFromCurrent seeds every wanted register from a live TPM read,
// letting a reseal operation be verified against what the firmware
// measured on the current boot rather than only against a simulated
// replay of the event log.
func (b *Bank) InitFromCurrent(_ context.Context, tpm TPMContext) error {
	algID := tpm2.HashAlgorithmId(b.Algo.ID)

	var pcrs []int
	for i := 0; i < MaxRegisters; i++ {
		if b.Wants(i) {
			pcrs = append(pcrs, i)
		}
	}
	if len(pcrs) == 0 {
		return nil
	}

	selection := tpm2.PCRSelectionList{
		{Hash: algID, Select: pcrs},
	}

	_, values, err := tpm.PCRRead(selection)
	if err != nil {
		return fmt.Errorf("pcrbank: PCR read failed: %w", err)
	}

	byHash, ok := values[algID]
	if !ok {
		return fmt.Errorf("pcrbank: TPM did not return values for algorithm %s", b.Algo.Name)
	}

	for _, idx := range pcrs {
		raw, ok := byHash[idx]
		if !ok {
			return fmt.Errorf("pcrbank: TPM did not return PCR %d", idx)
		}
		b.pcr[idx] = digest.Digest{Algo: b.Algo, Bytes: append([]byte(nil), raw...)}
		b.markValid(idx)
	}
	return nil
}
