// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package runtime

import (
	"io"
	"os"
)

// File abstracts a single open file the way the engine needs it: readable,
// closeable, and seekable enough for a SectionReader.
type File interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

// FS abstracts the filesystem so tests can substitute an in-memory
// implementation instead of touching the real root filesystem or EFI
// system partition. Mirrors the seam nullboot's efibootmgr package uses
// for the same reason.
type FS interface {
	Open(path string) (File, error)
	Readlink(path string) (string, error)
}

// osFS implements FS using the os package.
type osFS struct{}

func (osFS) Open(path string) (File, error) { return os.Open(path) }
func (osFS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

// OSFilesystem is the default, real-filesystem FS.
var OSFilesystem FS = osFS{}
