// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package digest

import (
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type registrySuite struct{}

var _ = check.Suite(&registrySuite{})

func (s *registrySuite) TestByIDBuiltins(c *check.C) {
	info, ok := ByID(AlgorithmSHA256)
	c.Assert(ok, check.Equals, true)
	c.Check(info.Name, check.Equals, "sha256")
	c.Check(info.DigestSize, check.Equals, 32)

	_, ok = ByID(AlgorithmID(0xBEEF))
	c.Check(ok, check.Equals, false)
}

func (s *registrySuite) TestByName(c *check.C) {
	info, ok := ByName("sha384")
	c.Assert(ok, check.Equals, true)
	c.Check(info.ID, check.Equals, AlgorithmSHA384)

	_, ok = ByName("not-an-algorithm")
	c.Check(ok, check.Equals, false)
}

func (s *registrySuite) TestLearnNewAlgorithm(c *check.C) {
	defer Reset()

	warning := Learn(AlgorithmID(0x0012), 48)
	c.Check(warning, check.Equals, "")

	info, ok := ByID(AlgorithmID(0x0012))
	c.Assert(ok, check.Equals, true)
	c.Check(info.DigestSize, check.Equals, 48)
	c.Check(info.New(), check.IsNil)
}

func (s *registrySuite) TestLearnConflictingBuiltinSize(c *check.C) {
	defer Reset()

	warning := Learn(AlgorithmSHA256, 48)
	c.Check(warning, check.Not(check.Equals), "")

	info, ok := ByID(AlgorithmSHA256)
	c.Assert(ok, check.Equals, true)
	c.Check(info.DigestSize, check.Equals, 32)
}

func (s *registrySuite) TestDigestInvalid(c *check.C) {
	c.Check(Digest{Bytes: nil}.Invalid(), check.Equals, true)
	c.Check(Digest{Bytes: make([]byte, 32)}.Invalid(), check.Equals, true)

	ff := make([]byte, 32)
	for i := range ff {
		ff[i] = 0xFF
	}
	c.Check(Digest{Bytes: ff}.Invalid(), check.Equals, true)

	mixed := make([]byte, 32)
	mixed[0] = 0x01
	c.Check(Digest{Bytes: mixed}.Invalid(), check.Equals, false)
}

func (s *registrySuite) TestComputeAndExtend(c *check.C) {
	sha256Info, ok := ByID(AlgorithmSHA256)
	c.Assert(ok, check.Equals, true)

	d, err := Compute(sha256Info, []byte("hello"))
	c.Assert(err, check.IsNil)
	c.Check(len(d.Bytes), check.Equals, 32)

	zero := make([]byte, 32)
	extended, err := Extend(sha256Info, zero, d.Bytes)
	c.Assert(err, check.IsNil)
	c.Check(len(extended.Bytes), check.Equals, 32)
	c.Check(extended.Bytes, check.Not(check.DeepEquals), d.Bytes)
}
