// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

// Parse interprets ev's raw event data, filling in ev.Parsed. It is
// idempotent: calling it again on an already-parsed event is a no-op.
// Event types this package has no parser for, or whose bodies don't
// match the expected shape, are left with ev.Parsed == nil — the rehash
// engine treats that as "copy the original digest, flag for review".
func (ev *RawEvent) Parse() {
	if ev.Parsed != nil {
		return
	}
	ev.Parsed = parseEvent(ev)
}

func parseEvent(ev *RawEvent) ParsedEvent {
	switch ev.Type {
	case EventEventTag:
		return parseEventTag(ev.Data)

	case EventIPL:
		return parseIPL(ev.PCR, ev.Data)

	case EventEFIVariableAuthority, EventEFIVariableBoot, EventEFIVariableBoot2, EventEFIVariableDriverConfig:
		return parseEFIVariableData(ev.Data)

	case EventEFIBootServicesApp, EventEFIBootServicesDriver:
		return parseEFIBootServicesApp(ev.Data)

	case EventEFIGPTEvent:
		return parseEFIGPT(ev.Data)

	default:
		return nil
	}
}
