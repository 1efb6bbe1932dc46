// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package runtime provides the engine's one and only window onto the live
// system: reading EFI variables, and hashing files on the root filesystem
// and the EFI system partition. The rehash engine reads the live system
// through this surface, so tests can substitute a fake implementation (see
// surface_test.go); the boot-entry loader (package bootentry) reads its
// files with os directly.
package runtime

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"syscall"

	efi "github.com/canonical/go-efilib"

	"github.com/suse-edge/pcrseal/digest"
)

// Surface is the live-system capability set consumed by the rehash engine
// (package rehash).
type Surface struct {
	fs      FS
	efiVars EFIVariables
	rootDir string
	espDir  string
}

// New returns a Surface rooted at rootDir (the running root filesystem,
// typically "/") and espDir (the mounted EFI system partition, typically
// "/boot/efi").
func New(rootDir, espDir string) *Surface {
	return &Surface{
		fs:      OSFilesystem,
		efiVars: RealEFIVariables,
		rootDir: rootDir,
		espDir:  espDir,
	}
}

// RootDir returns the root filesystem path this surface reads from.
func (s *Surface) RootDir() string { return s.rootDir }

// ESPDir returns the EFI system partition path this surface reads from.
func (s *Surface) ESPDir() string { return s.espDir }

// ReadEFIVariable reads the named EFI variable ("<Name>-<GUID>" full
// runtime name) and returns its raw value. go-efilib's ReadVariable
// already separates the variable's attributes from its data, so unlike a
// raw efivarfs file read, no 4-byte attribute prefix needs to be stripped
// here.
func (s *Surface) ReadEFIVariable(fullName string) ([]byte, error) {
	name, guid, err := ParseVariableFullName(fullName)
	if err != nil {
		return nil, err
	}

	data, _, err := s.efiVars.ReadVariable(efi.DefaultVarContext, name, guid)
	if err != nil {
		return nil, fmt.Errorf("runtime: cannot read EFI variable %s: %w", fullName, err)
	}
	return data, nil
}

// DigestEFIVariable reads and hashes an EFI variable's raw value.
func (s *Surface) DigestEFIVariable(algo *digest.AlgoInfo, fullName string) (digest.Digest, error) {
	data, err := s.ReadEFIVariable(fullName)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Compute(algo, data)
}

// openRelative opens path relative to root, rejecting escapes via ".." the
// way a fixed engine boundary should.
func (s *Surface) openRelative(root, path string) (File, error) {
	full := filepath.Join(root, path)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("runtime: path %q escapes %q", path, root)
	}
	return s.fs.Open(full)
}

// DigestRootfsFile hashes a file addressed relative to the running root
// filesystem (the historical grub-file rule "no device, or crypto0").
func (s *Surface) DigestRootfsFile(algo *digest.AlgoInfo, path string) (digest.Digest, error) {
	f, err := s.openRelative(s.rootDir, path)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("runtime: cannot open rootfs file %s: %w", path, err)
	}
	defer f.Close()
	return s.digestFile(algo, f)
}

// DigestEFIFile hashes a file addressed relative to the EFI system
// partition.
func (s *Surface) DigestEFIFile(algo *digest.AlgoInfo, path string) (digest.Digest, error) {
	f, err := s.openRelative(s.espDir, path)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("runtime: cannot open EFI partition file %s: %w", path, err)
	}
	defer f.Close()
	return s.digestFile(algo, f)
}

func (s *Surface) digestFile(algo *digest.AlgoInfo, f File) (digest.Digest, error) {
	info, err := f.Stat()
	if err != nil {
		return digest.Digest{}, err
	}

	h := algo.New()
	if h == nil {
		return digest.Digest{}, fmt.Errorf("runtime: no hash implementation for %s", algo.Name)
	}

	r := io.NewSectionReader(f, 0, info.Size())
	if _, err := io.Copy(h, r); err != nil {
		return digest.Digest{}, err
	}
	return digest.Digest{Algo: algo, Bytes: h.Sum(nil)}, nil
}

// ResolveSymlink follows a chain of symlinks rooted at the real
// filesystem, returning the final resolved path. Mirrors
// efibootmgr/reseal.go's resolveLink.
func ResolveSymlink(path string) (string, error) {
	path = filepath.Clean(path)

	for {
		target, err := OSFilesystem.Readlink(path)
		if err == syscall.EINVAL {
			return path, nil
		}
		if err != nil {
			return "", err
		}

		if !filepath.IsAbs(target) {
			target = filepath.Clean(filepath.Join(filepath.Dir(path), target))
		}
		path = target
	}
}

// SecureBootEnabled reports whether the live firmware has Secure Boot
// enabled, by reading the standard "SecureBoot" global EFI variable.
func (s *Surface) SecureBootEnabled() (bool, error) {
	data, _, err := s.efiVars.ReadVariable(efi.DefaultVarContext, "SecureBoot", efi.GlobalVariable)
	if err != nil {
		return false, fmt.Errorf("runtime: cannot read SecureBoot variable: %w", err)
	}
	if len(data) != 1 {
		return false, fmt.Errorf("runtime: unexpected SecureBoot variable size %d", len(data))
	}
	return data[0] == 1, nil
}
