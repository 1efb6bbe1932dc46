// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package eventlog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

const maxEventDataSize = 1024 * 1024

// specIDEvent03Signature is the magic string a crypto-agile log's first
// record carries at the start of its event data (the record itself is in
// the legacy SHA-1-only layout).
const specIDEvent03Signature = "Spec ID Event03"

const startupLocalitySignature = "StartupLocality"

// Reader decodes a TCG event log, auto-detecting whether it's the legacy
// TPM 1.2 SHA-1-only format or the TPM 2.0 crypto-agile format by sniffing
// the first record's Spec ID Event header, the same way the rest of the
// industry's log parsers work.
type Reader struct {
	r io.Reader

	version     int // 1 or 2
	eventCount  int
	haveLocality bool
	pcr0Locality uint8

	// OnWarning, if set, is called with a human-readable message for
	// non-fatal conditions encountered while decoding the log, such as
	// a Spec ID Event algorithm table entry whose declared digest size
	// disagrees with that algorithm's built-in size.
	OnWarning func(string)
}

// NewReader wraps r, which must yield the raw event log bytes from the
// start (e.g. the contents of /sys/kernel/security/tpm0/binary_bios_measurements).
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, version: 1}
}

// Version returns 1 or 2, identifying which TCG log format this reader
// detected. It is only meaningful after at least one call to Next.
func (rd *Reader) Version() int { return rd.version }

// Next decodes the next event record, transparently consuming and
// interpreting any TPM 2.0 Spec ID Event or StartupLocality no-action
// records rather than returning them to the caller. It returns io.EOF
// once the log is exhausted.
func (rd *Reader) Next() (*RawEvent, error) {
again:
	pcrIndex, eof, err := rd.readU32OrEOF()
	if err != nil {
		return nil, err
	}
	if eof {
		return nil, io.EOF
	}

	eventType, err := rd.readU32()
	if err != nil {
		return nil, err
	}

	var digests []digest.Digest
	if rd.version == 1 {
		digests, err = rd.readDigestsV1()
	} else {
		digests, err = rd.readDigestsV2()
	}
	if err != nil {
		return nil, err
	}

	size, err := rd.readU32()
	if err != nil {
		return nil, err
	}
	if size > maxEventDataSize {
		return nil, fmt.Errorf("eventlog: oversized event record with %d bytes of data", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		return nil, fmt.Errorf("eventlog: short read in event data: %w", err)
	}

	if EventType(eventType) == EventNoAction && pcrIndex == 0 && rd.eventCount == 0 && len(data) >= 16 {
		switch {
		case bytes.Equal(data[:16], []byte(specIDEvent03Signature+"\x00")[:16]):
			if err := rd.parseSpecIDEvent(data); err != nil {
				return nil, err
			}
			goto again
		case len(data) == 17 && bytes.Equal(data[:16], []byte(startupLocalitySignature+"\x00")[:16]):
			rd.haveLocality = true
			rd.pcr0Locality = data[16]
			goto again
		}
	}

	ev := &RawEvent{
		Index:   rd.eventCount,
		PCR:     pcrIndex,
		Type:    EventType(eventType),
		Digests: digests,
		Data:    data,
	}
	rd.eventCount++
	return ev, nil
}

// Locality returns the locality captured from a StartupLocality
// no-action event for PCR 0, if one was present.
func (rd *Reader) Locality(pcrIndex uint32) (uint8, bool) {
	if pcrIndex != 0 || !rd.haveLocality {
		return 0, false
	}
	return rd.pcr0Locality, true
}

// readU32OrEOF reads a little-endian uint32, reporting a clean EOF only
// when it occurs on the very first byte (the boundary between two
// records); anything short of a full 4 bytes past that point is a
// truncated log.
func (rd *Reader) readU32OrEOF() (value uint32, eof bool, err error) {
	var buf [4]byte
	n, err := io.ReadFull(rd.r, buf[:])
	if err == io.EOF && n == 0 {
		return 0, true, nil
	}
	if err == io.ErrUnexpectedEOF {
		return 0, false, fmt.Errorf("eventlog: short read from event log (premature EOF)")
	}
	if err != nil {
		return 0, false, fmt.Errorf("eventlog: unable to read from event log: %w", err)
	}
	return leUint32(buf[:]), false, nil
}

func (rd *Reader) readU32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(rd.r, buf[:]); err != nil {
		return 0, fmt.Errorf("eventlog: short read from event log: %w", err)
	}
	return leUint32(buf[:]), nil
}

func (rd *Reader) readU16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(rd.r, buf[:]); err != nil {
		return 0, fmt.Errorf("eventlog: short read from event log: %w", err)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// readDigestsV1 reads the single fixed SHA-1 digest a TPM 1.2 log record
// always carries.
func (rd *Reader) readDigestsV1() ([]digest.Digest, error) {
	algo, _ := digest.ByID(digest.AlgorithmSHA1)
	buf := make([]byte, algo.DigestSize)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, fmt.Errorf("eventlog: short read of SHA-1 digest: %w", err)
	}
	return []digest.Digest{{Algo: algo, Bytes: buf}}, nil
}

// readDigestsV2 reads the TPML_DIGEST_VALUES-shaped digest count followed
// by one (algorithm ID, digest bytes) pair per active bank.
func (rd *Reader) readDigestsV2() ([]digest.Digest, error) {
	count, err := rd.readU32()
	if err != nil {
		return nil, err
	}
	if count > 32 {
		return nil, fmt.Errorf("eventlog: implausible digest count %d in event record", count)
	}

	digests := make([]digest.Digest, 0, count)
	for i := uint32(0); i < count; i++ {
		algoID, err := rd.readU16()
		if err != nil {
			return nil, err
		}

		info, ok := digest.ByID(digest.AlgorithmID(algoID))
		if !ok {
			return nil, fmt.Errorf("eventlog: unable to handle event log entry for unknown hash algorithm %d", algoID)
		}

		buf := make([]byte, info.DigestSize)
		if _, err := io.ReadFull(rd.r, buf); err != nil {
			return nil, fmt.Errorf("eventlog: short read of %s digest: %w", info.Name, err)
		}
		digests = append(digests, digest.Digest{Algo: info, Bytes: buf})
	}
	return digests, nil
}

// parseSpecIDEvent decodes the TCG_EfiSpecIdEventStruct carried by the
// log's leading Spec ID Event03 record: platform class, spec version, and
// the table of algorithms/digest sizes this log was written with. Any
// algorithm ID it doesn't already know gets registered via digest.Learn so
// later records using it can be read.
func (rd *Reader) parseSpecIDEvent(data []byte) error {
	r := tpmbuf.NewReader(data[16:])

	if _, err := r.U32(); err != nil { // platformClass
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}
	specVersionMinor, err := r.U8()
	if err != nil {
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}
	specVersionMajor, err := r.U8()
	if err != nil {
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}
	if _, err := r.U8(); err != nil { // specErrata
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}
	if _, err := r.U8(); err != nil { // uintnSize
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}

	count, err := r.U32()
	if err != nil {
		return fmt.Errorf("eventlog: malformed Spec ID Event header: %w", err)
	}

	for i := uint32(0); i < count; i++ {
		algoID, err := r.U16()
		if err != nil {
			return fmt.Errorf("eventlog: malformed Spec ID Event algorithm table: %w", err)
		}
		algoSize, err := r.U16()
		if err != nil {
			return fmt.Errorf("eventlog: malformed Spec ID Event algorithm table: %w", err)
		}
		if warning := digest.Learn(digest.AlgorithmID(algoID), int(algoSize)); warning != "" && rd.OnWarning != nil {
			rd.OnWarning(warning)
		}
	}

	rd.version = int(specVersionMajor)
	if rd.version < 1 {
		rd.version = 2
	}
	return nil
}
