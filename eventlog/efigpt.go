// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

// EFIGPTEvent is the parsed form of an EV_EFI_GPT_EVENT record: a
// snapshot of the disk's GPT header and partition entries, measured once
// by the firmware as it enumerates boot devices.
type EFIGPTEvent struct {
	PartitionCount int
}

func (e *EFIGPTEvent) Describe() string {
	return fmt.Sprintf("EFI GPT event (%d partitions)", e.PartitionCount)
}

// Rehash is not attempted: the partition table doesn't change across an
// OS update, so the firmware will measure the same bytes again. The
// original digest is kept.
func (e *EFIGPTEvent) Rehash(*RehashContext) (*digest.Digest, error) {
	return nil, nil
}

// parseEFIGPT decodes just enough of the UEFI_GPT_DATA structure (the
// fixed GPT header followed by a partition count and the partition entry
// array) to report how many partitions were present; the partition
// contents themselves aren't needed for prediction.
func parseEFIGPT(data []byte) ParsedEvent {
	const gptHeaderSize = 92 // UEFI_PARTITION_TABLE_HEADER, fixed portion

	r := tpmbuf.NewReader(data)
	if _, err := r.Bytes(gptHeaderSize); err != nil {
		return nil
	}

	count, err := r.U64()
	if err != nil {
		return nil
	}

	return &EFIGPTEvent{PartitionCount: int(count)}
}
