// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmbuf

import (
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type bufferSuite struct{}

var _ = check.Suite(&bufferSuite{})

func (s *bufferSuite) TestWriterReaderRoundTrip(c *check.C) {
	w := NewWriter()
	w.PutU8(0x7f)
	w.PutU16(0x1234)
	w.PutU32(0xdeadbeef)
	w.PutU64(0x0102030405060708)
	w.PutBytes([]byte("tail"))

	r := NewReader(w.Bytes())

	u8, err := r.U8()
	c.Assert(err, check.IsNil)
	c.Check(u8, check.Equals, uint8(0x7f))

	u16, err := r.U16()
	c.Assert(err, check.IsNil)
	c.Check(u16, check.Equals, uint16(0x1234))

	u32, err := r.U32()
	c.Assert(err, check.IsNil)
	c.Check(u32, check.Equals, uint32(0xdeadbeef))

	u64, err := r.U64()
	c.Assert(err, check.IsNil)
	c.Check(u64, check.Equals, uint64(0x0102030405060708))

	rest := r.Rest()
	c.Check(string(rest), check.Equals, "tail")
	c.Check(r.Len(), check.Equals, 0)
}

func (s *bufferSuite) TestReaderShortBuffer(c *check.C) {
	r := NewReader([]byte{0x01, 0x02})

	_, err := r.U32()
	c.Check(err, check.Equals, ErrShortBuffer)

	_, err = r.Bytes(10)
	c.Check(err, check.Equals, ErrShortBuffer)

	c.Check(r.Skip(10), check.Equals, ErrShortBuffer)
}

func (s *bufferSuite) TestReaderBytesCopies(c *check.C) {
	data := []byte{1, 2, 3, 4}
	r := NewReader(data)

	got, err := r.Bytes(4)
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, data)

	got[0] = 0xff
	c.Check(data[0], check.Equals, byte(1))
}

func (s *bufferSuite) TestSkip(c *check.C) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	c.Assert(r.Skip(2), check.IsNil)
	c.Check(r.Len(), check.Equals, 3)

	v, err := r.U8()
	c.Assert(err, check.IsNil)
	c.Check(v, check.Equals, uint8(3))
}
