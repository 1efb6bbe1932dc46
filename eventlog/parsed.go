// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/bootentry"
	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/runtime"
)

// RehashStrategy tells the rehash engine (package rehash) how to treat an
// event it could not, or did not need to, reinterpret.
type RehashStrategy int

const (
	// StrategyRehash recomputes the digest by asking the ParsedEvent to
	// do so against the live system.
	StrategyRehash RehashStrategy = iota
	// StrategyCopy keeps the digest recorded in the original log
	// unchanged — the event's content cannot change across an update
	// (e.g. an empty IPL record).
	StrategyCopy
	// StrategyParseFailed means the event body didn't parse as
	// anything this package understands; callers fall back to copying
	// its original digest and should flag it for operator attention.
	StrategyParseFailed
)

// RehashContext carries everything a ParsedEvent needs to recompute its
// digest against the live or prospective system state: which algorithm to
// hash with, the runtime surface for reading files and EFI variables, and
// (when --next-kernel style prediction is in play) the boot entry that
// would be booted next.
type RehashContext struct {
	Algo      *digest.AlgoInfo
	Surface   *runtime.Surface
	BootEntry *bootentry.Entry

	// BootEntryPath is the on-disk path of BootEntry's ".conf" file
	// itself, substituted for grub's own bootloader-selection file
	// when grub is asked which entry to load.
	BootEntryPath string
}

// ParsedEvent is the interpreted form of an event's raw data. Each
// variant is a distinct Go type implementing this interface — a tagged
// sum type in the teacher's idiom, not a single struct with optional
// fields for every variant.
type ParsedEvent interface {
	// Describe renders a short, human-readable summary of the event,
	// the way a log dump would print it.
	Describe() string

	// Rehash recomputes what this event's digest would be under the
	// state described by ctx. A nil return with a nil error means
	// "nothing to rehash, keep the original digest" (StrategyCopy
	// semantics expressed at the per-event level).
	Rehash(ctx *RehashContext) (*digest.Digest, error)
}

// Strategy classifies how a raw event's digest should be recomputed: by
// calling Parsed.Rehash, by copying the original digest verbatim, or (if
// parsing of the event body failed) by copying and flagging it.
func (e *RawEvent) Strategy() RehashStrategy {
	if e.Parsed == nil {
		return StrategyParseFailed
	}
	if _, ok := e.Parsed.(copyEvent); ok {
		return StrategyCopy
	}
	return StrategyRehash
}

// copyEvent marks a ParsedEvent whose content never needs rehashing (an
// empty IPL record, for instance).
type copyEvent struct{ note string }

func (c copyEvent) Describe() string { return c.note }
func (c copyEvent) Rehash(*RehashContext) (*digest.Digest, error) { return nil, nil }

// describeUnparsed renders a short label for an event of type t whose body
// was not parsed.
func describeUnparsed(t EventType) string {
	return fmt.Sprintf("unparsed %s event", t)
}
