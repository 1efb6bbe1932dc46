// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

// EFIBootServicesAppEvent is the parsed form of an
// EV_EFI_BOOT_SERVICES_APPLICATION or EV_EFI_BOOT_SERVICES_DRIVER record:
// the EFI_IMAGE_LOAD_EVENT structure describing where an image (shim,
// grub, the kernel's EFI stub) was loaded from.
type EFIBootServicesAppEvent struct {
	ImageLocationInMemory uint64
	ImageLengthInMemory   uint64
	ImageLinkTimeAddress  uint64
	DevicePath            []byte
}

func (e *EFIBootServicesAppEvent) Describe() string {
	return fmt.Sprintf("EFI boot services application load (%d bytes at 0x%x)", e.ImageLengthInMemory, e.ImageLocationInMemory)
}

// Rehash is not attempted: recomputing a boot application's Authenticode
// digest requires parsing the PE/COFF image named by the device path and
// is out of scope for the grub/shim/kernel IPL chain this tool predicts.
// The firmware will re-measure it identically as long as the binary
// itself is unchanged, so the original digest is kept.
func (e *EFIBootServicesAppEvent) Rehash(*RehashContext) (*digest.Digest, error) {
	return nil, nil
}

func parseEFIBootServicesApp(data []byte) ParsedEvent {
	r := tpmbuf.NewReader(data)

	loc, err := r.U64()
	if err != nil {
		return nil
	}
	length, err := r.U64()
	if err != nil {
		return nil
	}
	linkAddr, err := r.U64()
	if err != nil {
		return nil
	}
	pathLen, err := r.U64()
	if err != nil {
		return nil
	}
	if pathLen > 1<<20 {
		return nil
	}
	path, err := r.Bytes(int(pathLen))
	if err != nil {
		return nil
	}

	return &EFIBootServicesAppEvent{
		ImageLocationInMemory: loc,
		ImageLengthInMemory:   length,
		ImageLinkTimeAddress:  linkAddr,
		DevicePath:            path,
	}
}
