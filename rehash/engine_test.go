// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package rehash

import (
	"bytes"
	"testing"

	"gopkg.in/check.v1"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/eventlog"
	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/tpmbuf"
)

func Test(t *testing.T) { check.TestingT(t) }

type engineSuite struct{}

var _ = check.Suite(&engineSuite{})

const specIDEvent03Signature = "Spec ID Event03"

func buildV2Log(events []struct {
	pcr     uint32
	evType  eventlog.EventType
	data    []byte
	algoID  uint16
	algSize int
}) []byte {
	w := tpmbuf.NewWriter()

	w.PutU32(0)
	w.PutU32(uint32(eventlog.EventNoAction))
	w.PutBytes(make([]byte, 20))

	body := tpmbuf.NewWriter()
	body.PutBytes([]byte(specIDEvent03Signature))
	body.PutU8(0)
	body.PutU32(0)
	body.PutU8(0) // minor
	body.PutU8(2) // major
	body.PutU8(0)
	body.PutU8(8)
	body.PutU32(1)
	body.PutU16(uint16(digest.AlgorithmSHA256))
	body.PutU16(32)
	body.PutU8(0)
	w.PutU32(uint32(len(body.Bytes())))
	w.PutBytes(body.Bytes())

	for _, e := range events {
		w.PutU32(e.pcr)
		w.PutU32(uint32(e.evType))
		w.PutU32(1)
		w.PutU16(e.algoID)
		w.PutBytes(bytes.Repeat([]byte{0x42}, e.algSize))
		w.PutU32(uint32(len(e.data)))
		w.PutBytes(e.data)
	}

	return w.Bytes()
}

func (s *engineSuite) TestReplayExtendsWantedPCRAndSkipsUnparsedEvent(c *check.C) {
	defer digest.Reset()

	data := buildV2Log([]struct {
		pcr     uint32
		evType  eventlog.EventType
		data    []byte
		algoID  uint16
		algSize int
	}{
		{pcr: 4, evType: eventlog.EventAction, data: []byte("unparsed event"), algoID: uint16(digest.AlgorithmSHA256), algSize: 32},
		{pcr: 9, evType: eventlog.EventAction, data: []byte("not-wanted PCR"), algoID: uint16(digest.AlgorithmSHA256), algSize: 32},
	})

	sha256Info, _ := digest.ByID(digest.AlgorithmSHA256)
	selection := pcrbank.Selection{Algo: sha256Info, Mask: 1 << 4}

	var skipped []*eventlog.RawEvent
	bank, err := Replay(eventlog.NewReader(bytes.NewReader(data)), Options{
		Selection: selection,
		OnSkippedEvent: func(ev *eventlog.RawEvent) {
			skipped = append(skipped, ev)
		},
	})
	c.Assert(err, check.IsNil)

	c.Check(bank.RegisterValid(4), check.Equals, true)
	c.Check(bank.RegisterValid(9), check.Equals, false)

	zero := make([]byte, 32)
	original := bytes.Repeat([]byte{0x42}, 32)
	want, err := digest.Extend(sha256Info, zero, original)
	c.Assert(err, check.IsNil)

	got, err := bank.Get(4)
	c.Assert(err, check.IsNil)
	c.Check(got.Bytes, check.DeepEquals, want.Bytes)

	c.Assert(skipped, check.HasLen, 1)
	c.Check(skipped[0].PCR, check.Equals, uint32(4))
}
