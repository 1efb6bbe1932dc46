// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

// EFIVariableEvent is the parsed form of an EV_EFI_VARIABLE_DRIVER_CONFIG,
// EV_EFI_VARIABLE_BOOT, or EV_EFI_VARIABLE_AUTHORITY record: the
// TCG_PCClientSpecIdEventStruct-era UEFI_VARIABLE_DATA structure
// (VariableName GUID, UnicodeName, VariableData).
type EFIVariableEvent struct {
	GUID       [16]byte
	Name       string
	VarDataLen uint64
}

func (e *EFIVariableEvent) Describe() string {
	return fmt.Sprintf("EFI variable %s", e.Name)
}

// Rehash is not meaningful for firmware-driven variable measurements:
// they reflect the running firmware's configuration at the time of
// measurement, not anything an update to the OS can predict. The event
// keeps its originally logged digest.
func (e *EFIVariableEvent) Rehash(*RehashContext) (*digest.Digest, error) {
	return nil, nil
}

// parseEFIVariableData decodes the UEFI_VARIABLE_DATA structure:
//
//	VariableName       efi_guid_t (16 bytes)
//	UnicodeNameLength   uint64 (UTF-16 code units)
//	VariableDataLength  uint64 (bytes)
//	UnicodeName         [UnicodeNameLength]uint16
//	VariableData        [VariableDataLength]byte
func parseEFIVariableData(data []byte) ParsedEvent {
	r := tpmbuf.NewReader(data)

	guidBytes, err := r.Bytes(16)
	if err != nil {
		return nil
	}

	nameLen, err := r.U64()
	if err != nil {
		return nil
	}
	dataLen, err := r.U64()
	if err != nil {
		return nil
	}
	if nameLen > 1<<20 || dataLen > 1<<24 {
		return nil
	}

	nameUnits, err := r.Bytes(int(nameLen) * 2)
	if err != nil {
		return nil
	}
	if _, err := r.Bytes(int(dataLen)); err != nil {
		return nil
	}

	e := &EFIVariableEvent{Name: decodeUTF16Units(nameUnits), VarDataLen: dataLen}
	copy(e.GUID[:], guidBytes)
	return e
}

// decodeUTF16Units decodes raw little-endian UTF-16 code units (as found
// embedded in TCG event records, which are not NUL-terminated and not
// wrapped in a BOM) without pulling in the full golang.org/x/text
// transform pipeline — used only for cosmetic Describe() output.
func decodeUTF16Units(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16Decode(units))
}

func utf16Decode(units []uint16) []rune {
	var out []rune
	for i := 0; i < len(units); i++ {
		r := rune(units[i])
		if r >= 0xD800 && r <= 0xDBFF && i+1 < len(units) {
			r2 := rune(units[i+1])
			if r2 >= 0xDC00 && r2 <= 0xDFFF {
				out = append(out, ((r-0xD800)<<10|(r2-0xDC00))+0x10000)
				i++
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
