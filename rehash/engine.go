// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package rehash replays a TCG event log into a PCR bank, optionally
// substituting in what each event's digest would be after a pending
// system update (a new kernel, initrd, or boot entry) instead of what was
// actually measured at the last boot. This is the core "predict the PCR
// values after applying this update" operation the whole tool exists to
// provide.
package rehash

import (
	"errors"
	"fmt"
	"io"

	"github.com/suse-edge/pcrseal/bootentry"
	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/eventlog"
	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/runtime"
)

// Options configures a replay: which algorithm/PCR selection to track,
// the runtime surface to read live files and variables from, and
// (optional) the boot entry predicted to be chosen on the next boot.
type Options struct {
	Selection     pcrbank.Selection
	Surface       *runtime.Surface
	BootEntry     *bootentry.Entry
	BootEntryPath string

	// OnSkippedEvent, if set, is called for every event on a selected PCR
	// whose body could not be parsed and whose logged digest was
	// therefore carried forward verbatim. Callers
	// use this to warn operators that the prediction may be
	// incomplete.
	OnSkippedEvent func(ev *eventlog.RawEvent)
}

// Replay reads every event from r, extends a fresh Bank with each one's
// (possibly rehashed) digest, and returns the resulting bank.
func Replay(r *eventlog.Reader, opts Options) (*pcrbank.Bank, error) {
	bank := pcrbank.New(opts.Selection.Algo, opts.Selection.Mask)
	bank.InitFromZero()

	rctx := &eventlog.RehashContext{
		Algo:          opts.Selection.Algo,
		Surface:       opts.Surface,
		BootEntry:     opts.BootEntry,
		BootEntryPath: opts.BootEntryPath,
	}

	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if locality, ok := r.Locality(ev.PCR); ok && ev.Index == 0 {
			if err := bank.SetLocality(int(ev.PCR), locality); err != nil {
				return nil, err
			}
		}

		if !bank.Wants(int(ev.PCR)) {
			continue
		}

		ev.Parse()

		if ev.Strategy() == eventlog.StrategyParseFailed && opts.OnSkippedEvent != nil {
			opts.OnSkippedEvent(ev)
		}

		d, err := recompute(ev, rctx)
		if err != nil {
			return nil, fmt.Errorf("rehash: event #%d (%s): %w", ev.Index, ev.Type, err)
		}

		if err := bank.Extend(int(ev.PCR), d.Bytes); err != nil {
			return nil, fmt.Errorf("rehash: event #%d: %w", ev.Index, err)
		}
	}

	return bank, nil
}

// recompute determines the digest to extend for ev: either its
// rehashed value, or the digest the log originally recorded, per
// ev.Strategy().
func recompute(ev *eventlog.RawEvent, rctx *eventlog.RehashContext) (digest.Digest, error) {
	original, ok := ev.Digest(rctx.Algo)
	if !ok {
		return digest.Digest{}, fmt.Errorf("no %s digest recorded for this event", rctx.Algo.Name)
	}

	switch ev.Strategy() {
	case eventlog.StrategyCopy, eventlog.StrategyParseFailed:
		return original, nil
	}

	rehashed, err := ev.Parsed.Rehash(rctx)
	if err != nil {
		return digest.Digest{}, err
	}
	if rehashed == nil {
		return original, nil
	}
	return *rehashed, nil
}
