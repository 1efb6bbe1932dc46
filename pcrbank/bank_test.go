// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package pcrbank

import (
	"testing"

	"github.com/canonical/go-tpm2"

	"gopkg.in/check.v1"

	"github.com/suse-edge/pcrseal/digest"
)

func Test(t *testing.T) { check.TestingT(t) }

type bankSuite struct{}

var _ = check.Suite(&bankSuite{})

func sha256Algo() *digest.AlgoInfo {
	info, _ := digest.ByID(digest.AlgorithmSHA256)
	return info
}

func (s *bankSuite) TestWants(c *check.C) {
	b := New(sha256Algo(), 0b101)
	c.Check(b.Wants(0), check.Equals, true)
	c.Check(b.Wants(1), check.Equals, false)
	c.Check(b.Wants(2), check.Equals, true)
	c.Check(b.Wants(-1), check.Equals, false)
	c.Check(b.Wants(MaxRegisters), check.Equals, false)
}

func (s *bankSuite) TestInitFromZeroAndExtend(c *check.C) {
	b := New(sha256Algo(), 0b1)
	b.InitFromZero()
	c.Check(b.RegisterValid(0), check.Equals, true)

	zero, err := b.Get(0)
	c.Assert(err, check.IsNil)
	c.Check(len(zero.Bytes), check.Equals, 32)
	for _, bb := range zero.Bytes {
		c.Check(bb, check.Equals, byte(0))
	}

	c.Assert(b.Extend(0, []byte("event data")), check.IsNil)
	extended, err := b.Get(0)
	c.Assert(err, check.IsNil)
	c.Check(extended.Bytes, check.Not(check.DeepEquals), zero.Bytes)
}

func (s *bankSuite) TestExtendBeforeInitializeFails(c *check.C) {
	b := New(sha256Algo(), 0b1)
	err := b.Extend(0, []byte("x"))
	c.Assert(err, check.NotNil)
}

func (s *bankSuite) TestExtendUnwantedRegisterIsNoop(c *check.C) {
	b := New(sha256Algo(), 0b1)
	c.Check(b.Extend(5, []byte("ignored")), check.IsNil)
	c.Check(b.RegisterValid(5), check.Equals, false)
}

func (s *bankSuite) TestSetLocality(c *check.C) {
	b := New(sha256Algo(), 0b1)
	c.Assert(b.SetLocality(0, 3), check.IsNil)
	c.Check(b.RegisterValid(0), check.Equals, true)

	want, err := digest.Compute(sha256Algo(), []byte{3})
	c.Assert(err, check.IsNil)
	got, err := b.Get(0)
	c.Assert(err, check.IsNil)
	c.Check(got.Bytes, check.DeepEquals, want.Bytes)
}

type fakeTPM struct {
	values tpm2.PCRValues
}

func (f *fakeTPM) PCRRead(sel tpm2.PCRSelectionList, sessions ...tpm2.SessionContext) (uint32, tpm2.PCRValues, error) {
	return 1, f.values, nil
}

func (s *bankSuite) TestInitFromCurrent(c *check.C) {
	algID := tpm2.HashAlgorithmId(sha256Algo().ID)
	b := New(sha256Algo(), 0b11)

	tpm := &fakeTPM{values: tpm2.PCRValues{
		algID: {
			0: tpm2.Digest("0123456789012345678901234567890a"[:32]),
			1: tpm2.Digest("abcdefghijklmnopqrstuvwxyzabcdefg"[:32]),
		},
	}}

	c.Assert(b.InitFromCurrent(nil, tpm), check.IsNil)
	c.Check(b.RegisterValid(0), check.Equals, true)
	c.Check(b.RegisterValid(1), check.Equals, true)

	got0, _ := b.Get(0)
	c.Check(got0.Bytes, check.DeepEquals, []byte("0123456789012345678901234567890a"[:32]))
}
