// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"fmt"
	"strings"

	"github.com/suse-edge/pcrseal/digest"
)

// GrubFile is a grub2 device/path pair, as grub formats file references:
// either a bare "/path" (the current root device) or "(device)/path".
type GrubFile struct {
	Device string // empty means "no device specified"
	Path   string
}

// String renders the file reference the way grub2 itself would print it.
func (f GrubFile) String() string {
	if f.Device == "" {
		return f.Path
	}
	return fmt.Sprintf("(%s)%s", f.Device, f.Path)
}

func parseGrubFile(value string) (GrubFile, bool) {
	if value == "" {
		return GrubFile{}, false
	}
	if value[0] == '/' {
		return GrubFile{Path: value}, true
	}
	if value[0] != '(' {
		return GrubFile{}, false
	}

	closeIdx := strings.IndexByte(value, ')')
	if closeIdx < 0 {
		return GrubFile{}, false
	}
	return GrubFile{Device: value[1:closeIdx], Path: value[closeIdx+1:]}, true
}

// GrubCommandKind distinguishes the four flavors of grub2 PCR 8 IPL
// records this package interprets.
type GrubCommandKind int

const (
	GrubCommandGeneric GrubCommandKind = iota
	GrubCommandLinux
	GrubCommandInitrd
	GrubCommandKernelCmdline
)

// GrubCommandEvent is a "grub_cmd: ..." or "kernel_cmdline: ..." IPL
// record from PCR 8.
type GrubCommandEvent struct {
	Kind   GrubCommandKind
	Raw    string
	File   GrubFile
	hasFile bool
}

func (e *GrubCommandEvent) Describe() string {
	var topic string
	switch e.Kind {
	case GrubCommandLinux:
		topic = "grub2 linux command"
	case GrubCommandInitrd:
		topic = "grub2 initrd command"
	case GrubCommandKernelCmdline:
		topic = "grub2 kernel cmdline"
	default:
		topic = "grub2 command"
	}
	return fmt.Sprintf("%s %q", topic, e.Raw)
}

// Rehash recomputes the digest of this command line, substituting in the
// predicted next boot entry's kernel/initrd path and options where the
// original recorded a file this update will replace.
func (e *GrubCommandEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	str := e.Raw

	if ctx.BootEntry != nil && e.hasFile {
		switch e.Kind {
		case GrubCommandLinux:
			f := GrubFile{Device: e.File.Device, Path: ctx.BootEntry.ImagePath}
			str = fmt.Sprintf("linux %s %s", f, ctx.BootEntry.Options)
		case GrubCommandInitrd:
			f := GrubFile{Device: e.File.Device, Path: ctx.BootEntry.InitrdPath}
			str = fmt.Sprintf("initrd %s", f)
		case GrubCommandKernelCmdline:
			f := GrubFile{Device: e.File.Device, Path: ctx.BootEntry.ImagePath}
			str = fmt.Sprintf("%s %s", f, ctx.BootEntry.Options)
		}
	}

	d, err := digest.Compute(ctx.Algo, []byte(str))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseGrubCommandEvent(value string) (*GrubCommandEvent, bool) {
	keyword, arg, ok := splitKeywordArg(value)
	if !ok {
		return nil, false
	}

	e := &GrubCommandEvent{Raw: arg}

	switch {
	case keyword == "grub_cmd" && strings.HasPrefix(arg, "linux"):
		rest := firstWordSplit(arg)
		if rest == "" {
			return nil, false
		}
		file, ok := parseGrubFile(rest)
		if !ok {
			return nil, false
		}
		e.Kind, e.File, e.hasFile = GrubCommandLinux, file, true

	case keyword == "grub_cmd" && strings.HasPrefix(arg, "initrd"):
		rest := firstWordSplit(arg)
		if rest == "" {
			return nil, false
		}
		file, ok := parseGrubFile(rest)
		if !ok {
			return nil, false
		}
		e.Kind, e.File, e.hasFile = GrubCommandInitrd, file, true

	case keyword == "grub_cmd":
		e.Kind = GrubCommandGeneric

	case keyword == "kernel_cmdline":
		file, ok := parseGrubFile(arg)
		if !ok {
			return nil, false
		}
		e.Kind, e.File, e.hasFile = GrubCommandKernelCmdline, file, true

	default:
		return nil, false
	}

	return e, true
}

// splitKeywordArg splits a "keyword: argument" IPL string as grub2 writes
// it: the keyword is alphabetic/underscore, followed by ": ".
func splitKeywordArg(value string) (keyword, arg string, ok bool) {
	i := 0
	for i < len(value) {
		c := value[i]
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			break
		}
		i++
	}
	if i+1 >= len(value) || value[i] != ':' || value[i+1] != ' ' {
		return "", "", false
	}
	return value[:i], value[i+2:], true
}

// firstWordSplit returns the remainder of s after its first space-
// delimited word, e.g. "linux (hd0,gpt2)/vmlinuz root=..." -> the part
// after "linux ".
func firstWordSplit(s string) string {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return ""
	}
	return s[idx+1:]
}

// GrubFileEvent is a PCR 9 "file load" IPL record: grub2 loading a file
// (a module, font, config fragment, kernel or initrd) from disk.
type GrubFileEvent struct {
	File GrubFile
}

func (e *GrubFileEvent) Describe() string {
	return fmt.Sprintf("grub2 file load from %s", e.File)
}

// isBootEntryConfig reports whether path looks like a loader/entries/*.conf
// boot entry file, the way grub's bls module addresses it.
func isBootEntryConfig(path string) bool {
	return strings.Contains(path, "/loader/entries/") && strings.HasSuffix(path, ".conf")
}

func isKernelImagePath(ctx *RehashContext, path string) bool {
	return ctx.BootEntry != nil && path == ctx.BootEntry.ImagePath
}

func isInitrdPath(ctx *RehashContext, path string) bool {
	return ctx.BootEntry != nil && path == ctx.BootEntry.InitrdPath
}

func (e *GrubFileEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	var d digest.Digest
	var err error

	if e.File.Device == "" || e.File.Device == "crypto0" {
		d, err = ctx.Surface.DigestRootfsFile(ctx.Algo, e.File.Path)
	} else if isBootEntryConfig(e.File.Path) && ctx.BootEntryPath != "" {
		d, err = ctx.Surface.DigestRootfsFile(ctx.Algo, ctx.BootEntryPath)
	} else if ctx.BootEntry != nil && isKernelImagePath(ctx, e.File.Path) {
		d, err = ctx.Surface.DigestEFIFile(ctx.Algo, ctx.BootEntry.ImagePath)
	} else if ctx.BootEntry != nil && isInitrdPath(ctx, e.File.Path) {
		d, err = ctx.Surface.DigestEFIFile(ctx.Algo, ctx.BootEntry.InitrdPath)
	} else {
		d, err = ctx.Surface.DigestEFIFile(ctx.Algo, e.File.Path)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseGrubFileEvent(value string) (*GrubFileEvent, bool) {
	file, ok := parseGrubFile(value)
	if !ok {
		return nil, false
	}
	return &GrubFileEvent{File: file}, true
}

// parseIPL interprets a PCR 8/9/12/14 IPL event body, returning a
// ParsedEvent for PCRs and content this package knows how to handle, or
// nil if it doesn't recognize the content.
func parseIPL(pcr uint32, data []byte) ParsedEvent {
	if len(data) == 0 || data[0] == 0 {
		return copyEvent{note: "empty IPL event"}
	}

	// grub2 and shim record the string including its trailing NUL.
	if data[len(data)-1] != 0 {
		return nil
	}
	value := string(data[:len(data)-1])

	switch pcr {
	case 8:
		if e, ok := parseGrubCommandEvent(value); ok {
			return e
		}
	case 9:
		if e, ok := parseGrubFileEvent(value); ok {
			return e
		}
	case 12:
		return parseSystemdEvent(value)
	case 14:
		if e, ok := parseShimEvent(value); ok {
			return e
		}
	}
	return nil
}
