// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package runtime

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	efi "github.com/canonical/go-efilib"

	"gopkg.in/check.v1"

	"github.com/suse-edge/pcrseal/digest"
)

func Test(t *testing.T) { check.TestingT(t) }

type surfaceSuite struct{}

var _ = check.Suite(&surfaceSuite{})

type fakeFileInfo struct {
	size int64
}

func (f fakeFileInfo) Name() string       { return "fake" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() os.FileMode  { return 0644 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() interface{}   { return nil }

type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, errors.New("EOF")
	}
	n := copy(p, f.data[off:])
	return n, nil
}

func (f *fakeFile) Close() error { return nil }

func (f *fakeFile) Stat() (os.FileInfo, error) {
	return fakeFileInfo{size: int64(len(f.data))}, nil
}

type fakeFS struct {
	files map[string][]byte
	links map[string]string
}

func (f *fakeFS) Open(path string) (File, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &fakeFile{data: data}, nil
}

func (f *fakeFS) Readlink(path string) (string, error) {
	target, ok := f.links[path]
	if !ok {
		return "", syscall.EINVAL
	}
	return target, nil
}

type fakeEFIVars struct {
	vars map[string][]byte
}

func (f *fakeEFIVars) ReadVariable(ctx context.Context, name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
	key := FormatVariableFullName(name, guid)
	data, ok := f.vars[key]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	return data, 0, nil
}

func (s *surfaceSuite) TestDigestRootfsFile(c *check.C) {
	sha256Info, _ := digest.ByID(digest.AlgorithmSHA256)

	surf := &Surface{
		fs:      &fakeFS{files: map[string][]byte{"/root/boot/vmlinuz": []byte("kernel bytes")}},
		efiVars: &fakeEFIVars{},
		rootDir: "/root",
		espDir:  "/esp",
	}

	got, err := surf.DigestRootfsFile(sha256Info, "boot/vmlinuz")
	c.Assert(err, check.IsNil)

	want, err := digest.Compute(sha256Info, []byte("kernel bytes"))
	c.Assert(err, check.IsNil)
	c.Check(got.Bytes, check.DeepEquals, want.Bytes)
}

func (s *surfaceSuite) TestDigestRootfsFileRejectsEscape(c *check.C) {
	sha256Info, _ := digest.ByID(digest.AlgorithmSHA256)
	surf := &Surface{
		fs:      &fakeFS{files: map[string][]byte{}},
		efiVars: &fakeEFIVars{},
		rootDir: "/root",
		espDir:  "/esp",
	}

	_, err := surf.DigestRootfsFile(sha256Info, "../etc/passwd")
	c.Assert(err, check.NotNil)
}

func (s *surfaceSuite) TestDigestEFIVariable(c *check.C) {
	sha256Info, _ := digest.ByID(digest.AlgorithmSHA256)
	fullName := FormatVariableFullName("BootOrder", efi.GlobalVariable)

	surf := &Surface{
		fs:      &fakeFS{},
		efiVars: &fakeEFIVars{vars: map[string][]byte{fullName: []byte{0x00, 0x01}}},
		rootDir: "/root",
		espDir:  "/esp",
	}

	got, err := surf.DigestEFIVariable(sha256Info, fullName)
	c.Assert(err, check.IsNil)

	want, err := digest.Compute(sha256Info, []byte{0x00, 0x01})
	c.Assert(err, check.IsNil)
	c.Check(got.Bytes, check.DeepEquals, want.Bytes)
}

func (s *surfaceSuite) TestSecureBootEnabled(c *check.C) {
	surf := &Surface{
		fs:      &fakeFS{},
		efiVars: &fakeEFIVars{vars: map[string][]byte{"SecureBoot-" + efi.GlobalVariable.String(): {0x01}}},
		rootDir: "/root",
		espDir:  "/esp",
	}

	enabled, err := surf.SecureBootEnabled()
	c.Assert(err, check.IsNil)
	c.Check(enabled, check.Equals, true)
}

func (s *surfaceSuite) TestParseAndFormatVariableFullName(c *check.C) {
	full := FormatVariableFullName("BootOrder", efi.GlobalVariable)
	name, guid, err := ParseVariableFullName(full)
	c.Assert(err, check.IsNil)
	c.Check(name, check.Equals, "BootOrder")
	c.Check(guid, check.Equals, efi.GlobalVariable)
}

func (s *surfaceSuite) TestParseVariableFullNameRejectsShort(c *check.C) {
	_, _, err := ParseVariableFullName("short")
	c.Assert(err, check.NotNil)
}
