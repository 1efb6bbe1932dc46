// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package eventlog reads and interprets the TCG PC Client event log, the
// record of every measurement extended into the firmware's PCRs since
// power-on. It supports both the legacy TPM 1.2 SHA-1-only log format and
// the TPM 2.0 crypto-agile format, and parses enough of the event bodies
// (EFI variable measurements, boot application loads, GPT tables, grub and
// shim IPL records, systemd-boot and kernel tag events) to let package
// rehash recompute what today's measurements would look like after a
// system update.
package eventlog

import (
	"github.com/suse-edge/pcrseal/digest"
)

// RawEvent is one record exactly as it appeared in the log: its PCR index,
// event type, one digest per bank active in the log, and the raw event
// data blob.
type RawEvent struct {
	Index      int
	PCR        uint32
	Type       EventType
	Digests    []digest.Digest
	Data       []byte
	FileOffset int64

	Parsed ParsedEvent
}

// Digest returns this event's digest for the given algorithm, or the zero
// Digest and false if the log didn't record one for that bank.
func (e *RawEvent) Digest(algo *digest.AlgoInfo) (digest.Digest, bool) {
	for _, d := range e.Digests {
		if d.Algo == algo {
			return d, true
		}
	}
	return digest.Digest{}, false
}

// EventType is a TCG_EVENTTYPE value.
type EventType uint32

// Event types the parser understands. Values match the TCG PC Client
// Platform Firmware Profile specification.
const (
	EventPrebootCert              EventType = 0x00000000
	EventPostCode                 EventType = 0x00000001
	EventUnused                   EventType = 0x00000002
	EventNoAction                 EventType = 0x00000003
	EventSeparator                EventType = 0x00000004
	EventAction                   EventType = 0x00000005
	EventEventTag                 EventType = 0x00000006
	EventSCRTMContents            EventType = 0x00000007
	EventSCRTMVersion             EventType = 0x00000008
	EventCPUMicrocode             EventType = 0x00000009
	EventPlatformConfigFlags      EventType = 0x0000000A
	EventTableOfDevices           EventType = 0x0000000B
	EventCompactHash              EventType = 0x0000000C
	EventIPL                      EventType = 0x0000000D
	EventIPLPartitionData         EventType = 0x0000000E
	EventNonhostCode              EventType = 0x0000000F
	EventNonhostConfig            EventType = 0x00000010
	EventNonhostInfo              EventType = 0x00000011
	EventOmitBootDeviceEvents     EventType = 0x00000012
	EventEFIEventBase             EventType = 0x80000000
	EventEFIVariableDriverConfig  EventType = 0x80000001
	EventEFIVariableBoot          EventType = 0x80000002
	EventEFIBootServicesApp       EventType = 0x80000003
	EventEFIBootServicesDriver    EventType = 0x80000004
	EventEFIRuntimeServicesDriver EventType = 0x80000005
	EventEFIGPTEvent              EventType = 0x80000006
	EventEFIAction                EventType = 0x80000007
	EventEFIPlatformFirmwareBlob  EventType = 0x80000008
	EventEFIHandoffTables         EventType = 0x80000009
	EventEFIPlatformFirmwareBlob2 EventType = 0x8000000A
	EventEFIHandoffTables2        EventType = 0x8000000B
	EventEFIVariableBoot2         EventType = 0x8000000C
	EventEFIHCRTMEvent            EventType = 0x80000010
	EventEFIVariableAuthority     EventType = 0x800000E0
	EventEFISPDMFirmwareBlob      EventType = 0x800000E1
	EventEFISPDMFirmwareConfig    EventType = 0x800000E2
)

// String renders the event type the way tools conventionally print it,
// falling back to its hex value for anything not in the table above.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return unknownEventTypeName(t)
}

var eventTypeNames = map[EventType]string{
	EventPrebootCert:              "EV_PREBOOT_CERT",
	EventPostCode:                 "EV_POST_CODE",
	EventUnused:                   "EV_UNUSED",
	EventNoAction:                 "EV_NO_ACTION",
	EventSeparator:                "EV_SEPARATOR",
	EventAction:                   "EV_ACTION",
	EventEventTag:                 "EV_EVENT_TAG",
	EventSCRTMContents:            "EV_S_CRTM_CONTENTS",
	EventSCRTMVersion:             "EV_S_CRTM_VERSION",
	EventCPUMicrocode:             "EV_CPU_MICROCODE",
	EventPlatformConfigFlags:      "EV_PLATFORM_CONFIG_FLAGS",
	EventTableOfDevices:           "EV_TABLE_OF_DEVICES",
	EventCompactHash:              "EV_COMPACT_HASH",
	EventIPL:                      "EV_IPL",
	EventIPLPartitionData:         "EV_IPL_PARTITION_DATA",
	EventNonhostCode:              "EV_NONHOST_CODE",
	EventNonhostConfig:            "EV_NONHOST_CONFIG",
	EventNonhostInfo:              "EV_NONHOST_INFO",
	EventOmitBootDeviceEvents:     "EV_OMIT_BOOT_DEVICE_EVENTS",
	EventEFIEventBase:             "EV_EFI_EVENT_BASE",
	EventEFIVariableDriverConfig:  "EV_EFI_VARIABLE_DRIVER_CONFIG",
	EventEFIVariableBoot:          "EV_EFI_VARIABLE_BOOT",
	EventEFIBootServicesApp:       "EV_EFI_BOOT_SERVICES_APPLICATION",
	EventEFIBootServicesDriver:    "EV_EFI_BOOT_SERVICES_DRIVER",
	EventEFIRuntimeServicesDriver: "EV_EFI_RUNTIME_SERVICES_DRIVER",
	EventEFIGPTEvent:              "EV_EFI_GPT_EVENT",
	EventEFIAction:                "EV_EFI_ACTION",
	EventEFIPlatformFirmwareBlob:  "EV_EFI_PLATFORM_FIRMWARE_BLOB",
	EventEFIHandoffTables:         "EV_EFI_HANDOFF_TABLES",
	EventEFIPlatformFirmwareBlob2: "EV_EFI_PLATFORM_FIRMWARE_BLOB2",
	EventEFIHandoffTables2:        "EV_EFI_HANDOFF_TABLES2",
	EventEFIVariableBoot2:         "EV_EFI_VARIABLE_BOOT2",
	EventEFIHCRTMEvent:            "EV_EFI_HCRTM_EVENT",
	EventEFIVariableAuthority:     "EV_EFI_VARIABLE_AUTHORITY",
	EventEFISPDMFirmwareBlob:      "EV_EFI_SPDM_FIRMWARE_BLOB",
	EventEFISPDMFirmwareConfig:    "EV_EFI_SPDM_FIRMWARE_CONFIG",
}

func unknownEventTypeName(t EventType) string {
	const hexdigits = "0123456789abcdef"
	buf := make([]byte, 0, 10)
	buf = append(buf, '0', 'x')
	started := false
	for shift := 28; shift >= 0; shift -= 4 {
		nibble := (uint32(t) >> uint(shift)) & 0xF
		if nibble != 0 {
			started = true
		}
		if started {
			buf = append(buf, hexdigits[nibble])
		}
	}
	if !started {
		buf = append(buf, '0')
	}
	return string(buf)
}
