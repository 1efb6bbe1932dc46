// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package runtime

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	efi "github.com/canonical/go-efilib"
)

// EFIVariables abstracts away EFI variable access so tests can substitute
// a map-backed fake, the same seam nullboot's efibootmgr.EFIVariables
// interface provides over go-efilib.
type EFIVariables interface {
	ReadVariable(ctx context.Context, name string, guid efi.GUID) (data []byte, attrs efi.VariableAttributes, err error)
}

// realEFIVariables is the production implementation, backed by go-efilib's
// efivarfs access.
type realEFIVariables struct{}

func (realEFIVariables) ReadVariable(ctx context.Context, name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
	return efi.ReadVariable(ctx, name, guid)
}

// RealEFIVariables is the default EFIVariables implementation.
var RealEFIVariables EFIVariables = realEFIVariables{}

// ParseVariableFullName splits the standard efivarfs "<Name>-<GUID>" full
// runtime name into its name and GUID parts.
func ParseVariableFullName(fullName string) (name string, guid efi.GUID, err error) {
	const guidLen = 36 // 8-4-4-4-12
	if len(fullName) < guidLen+1 {
		return "", efi.GUID{}, fmt.Errorf("runtime: %q is too short to be a full EFI variable name", fullName)
	}

	split := len(fullName) - guidLen - 1
	if fullName[split] != '-' {
		return "", efi.GUID{}, fmt.Errorf("runtime: %q is not a valid full EFI variable name", fullName)
	}

	name = fullName[:split]
	guid, err = parseGUID(stripGUIDBraces(fullName[split+1:]))
	if err != nil {
		return "", efi.GUID{}, fmt.Errorf("runtime: invalid GUID in %q: %w", fullName, err)
	}
	return name, guid, nil
}

// parseGUID decodes a standard 8-4-4-4-12 hyphenated GUID string into an
// efi.GUID.
func parseGUID(s string) (efi.GUID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q", s)
	}

	a, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q: %w", s, err)
	}
	b, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q: %w", s, err)
	}
	c, err := strconv.ParseUint(parts[2], 16, 16)
	if err != nil {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q: %w", s, err)
	}
	d, err := strconv.ParseUint(parts[3], 16, 16)
	if err != nil {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q: %w", s, err)
	}
	eBytes, err := hex.DecodeString(parts[4])
	if err != nil || len(eBytes) != 6 {
		return efi.GUID{}, fmt.Errorf("malformed GUID %q", s)
	}

	var e [6]byte
	copy(e[:], eBytes)
	return efi.MakeGUID(uint32(a), uint16(b), uint16(c), uint16(d), e), nil
}

// FormatVariableFullName joins a variable name and GUID into the
// "<Name>-<GUID>" efivarfs full name.
func FormatVariableFullName(name string, guid efi.GUID) string {
	return fmt.Sprintf("%s-%s", name, guid)
}

// stripGUIDBraces is applied defensively in case a caller passes a GUID
// wrapped in braces, which some firmware logs do.
func stripGUIDBraces(s string) string {
	return strings.Trim(s, "{}")
}
