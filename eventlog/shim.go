// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"

	"github.com/suse-edge/pcrseal/digest"
)

// shimVariableGUID is the GUID shim uses for its own runtime variables
// (MokList, MokListX, MokListTrusted, SbatLevel, ...).
const shimVariableGUID = "605dab50-e046-4300-abb6-3dd810dd8b23"

// shimOwnVariables is the set of variable names shim records IPL events
// for on PCR 14.
var shimOwnVariables = map[string]bool{
	"MokList":        true,
	"MokListX":       true,
	"MokListTrusted": true,
	"MokListRT":      true,
	"MokListXRT":     true,
	"SbatLevel":      true,
	"SbatLevelRT":    true,
}

// ShimEvent is a PCR 14 IPL record emitted by shim when it measures one
// of its own EFI variables before honoring it.
type ShimEvent struct {
	Raw         string
	EFIVariable string // full "<Name>-<GUID>" runtime name
}

func (e *ShimEvent) Describe() string {
	return fmt.Sprintf("shim loader %s event", e.Raw)
}

func (e *ShimEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	d, err := ctx.Surface.DigestEFIVariable(ctx.Algo, e.EFIVariable)
	if err != nil {
		return nil, fmt.Errorf("eventlog: rehashing shim event %q: %w", e.Raw, err)
	}
	return &d, nil
}

func parseShimEvent(value string) (*ShimEvent, bool) {
	if !shimOwnVariables[value] {
		return nil, false
	}
	return &ShimEvent{
		Raw:         value,
		EFIVariable: fmt.Sprintf("%s-%s", value, shimVariableGUID),
	}, true
}
