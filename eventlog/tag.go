// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

// Tag event IDs the kernel records on PCR 9 for EV_EVENT_TAG records.
const (
	loadOptionsEventTagID uint32 = 0x8F3B22EC
	initrdEventTagID      uint32 = 0x8F3B22ED
)

// LoadOptionsTagEvent is the kernel's own measurement, on PCR 9, of the
// command line it was started with.
type LoadOptionsTagEvent struct {
	Data []byte
}

func (e *LoadOptionsTagEvent) Describe() string {
	return "Kernel command line (measured by the kernel)"
}

func (e *LoadOptionsTagEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	return rehashSystemdCmdline(ctx)
}

// InitrdTagEvent is the kernel's own measurement, on PCR 9, of the
// initrd image it loaded.
type InitrdTagEvent struct {
	Data []byte
}

func (e *InitrdTagEvent) Describe() string {
	return "initrd (measured by the kernel)"
}

func (e *InitrdTagEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	if ctx.BootEntry == nil {
		return nil, nil
	}
	if ctx.BootEntry.InitrdPath == "" {
		return nil, fmt.Errorf("eventlog: unable to identify the next initrd")
	}
	d, err := ctx.Surface.DigestEFIFile(ctx.Algo, ctx.BootEntry.InitrdPath)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseEventTag decodes an EV_EVENT_TAG record: a little-endian
// (event_id, data_len, data) tuple, the generic TCG "tagged event"
// wrapper the kernel uses to carry LOAD_OPTIONS and INITRD measurements.
func parseEventTag(data []byte) ParsedEvent {
	r := tpmbuf.NewReader(data)

	eventID, err := r.U32()
	if err != nil {
		return nil
	}
	dataLen, err := r.U32()
	if err != nil {
		return nil
	}
	body, err := r.Bytes(int(dataLen))
	if err != nil {
		return nil
	}

	switch eventID {
	case loadOptionsEventTagID:
		return &LoadOptionsTagEvent{Data: body}
	case initrdEventTagID:
		return &InitrdTagEvent{Data: body}
	default:
		return nil
	}
}
