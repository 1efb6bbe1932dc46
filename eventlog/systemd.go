// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/suse-edge/pcrseal/digest"
)

// SystemdEvent is a PCR 12 IPL record emitted by systemd-boot: the UTF-16
// kernel command line it is about to pass to the kernel, as
// "initrd=\path options...".
type SystemdEvent struct {
	Raw []byte // original UTF-16LE bytes, minus the record's final byte
}

func (e *SystemdEvent) Describe() string {
	text, err := utf16leToUTF8(e.Raw)
	if err != nil {
		text = "<unreadable>"
	}
	return fmt.Sprintf("systemd boot event %s", text)
}

func (e *SystemdEvent) Rehash(ctx *RehashContext) (*digest.Digest, error) {
	return rehashSystemdCmdline(ctx)
}

func parseSystemdEvent(value string) ParsedEvent {
	return &SystemdEvent{Raw: []byte(value)}
}

// rehashSystemdCmdline is shared between the PCR 12 IPL record and the
// PCR 9 LOAD_OPTIONS tag event, which both ultimately measure the same
// "initrd=... options" command line systemd-boot constructs for the next
// kernel.
func rehashSystemdCmdline(ctx *RehashContext) (*digest.Digest, error) {
	if ctx.BootEntry == nil {
		return nil, nil // StrategyCopy: no --next-kernel prediction requested
	}
	if ctx.BootEntry.InitrdPath == "" {
		return nil, fmt.Errorf("eventlog: unable to identify the next initrd")
	}

	cmdline := fmt.Sprintf("initrd=%s %s", pathUnixToDOS(ctx.BootEntry.InitrdPath), ctx.BootEntry.Options)

	encoded, err := utf8ToUTF16leWithNUL(cmdline)
	if err != nil {
		return nil, err
	}

	d, err := digest.Compute(ctx.Algo, encoded)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// pathUnixToDOS converts a unix-style path ("/EFI/BOOT/foo") into the
// backslash-separated form systemd-boot writes into the kernel command
// line.
func pathUnixToDOS(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out[i] = '\\'
		} else {
			out[i] = path[i]
		}
	}
	return string(out)
}

func utf16leToUTF8(data []byte) (string, error) {
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	var buf bytes.Buffer
	w := transform.NewWriter(&buf, decoder)
	if _, err := w.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// utf8ToUTF16leWithNUL encodes s as UTF-16LE with a trailing NUL
// terminator, the way the original C implementation includes the
// terminator in the cmdline digest.
func utf8ToUTF16leWithNUL(s string) ([]byte, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	r := transform.NewReader(bytes.NewReader([]byte(s+"\x00")), encoder)
	return io.ReadAll(r)
}
