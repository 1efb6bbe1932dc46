// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"fmt"

	"github.com/canonical/go-tpm2"

	"gopkg.in/check.v1"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/pcrbank"
)

type policySuite struct{}

var _ = check.Suite(&policySuite{})

// fakeTrialTPM implements TPMContext enough to drive a trial-session
// policy digest computation: StartAuthSession/FlushContext/PolicyPCR/
// PolicyAuthorize/PolicyGetDigest. Every other method is unused by the
// code paths under test and returns an error if called.
type fakeTrialTPM struct {
	sessionDigest tpm2.Digest
}

func (f *fakeTrialTPM) StartAuthSession(tpmKey, bind tpm2.ResourceContext, sessionType tpm2.SessionType, symmetric *tpm2.SymDef, authHash tpm2.HashAlgorithmId, sessions ...tpm2.SessionContext) (tpm2.SessionContext, error) {
	f.sessionDigest = make(tpm2.Digest, 32)
	return nil, nil
}

func (f *fakeTrialTPM) FlushContext(handleContext tpm2.HandleContext) error { return nil }

func (f *fakeTrialTPM) PolicyPCR(policySession tpm2.SessionContext, pcrDigest tpm2.Digest, pcrs tpm2.PCRSelectionList, sessions ...tpm2.SessionContext) error {
	h := make(tpm2.Digest, 32)
	copy(h, pcrDigest)
	f.sessionDigest = h
	return nil
}

func (f *fakeTrialTPM) PolicyAuthorize(policySession tpm2.SessionContext, approvedPolicy tpm2.Digest, policyRef tpm2.Nonce, keySign tpm2.Name, checkTicket *tpm2.TkVerified, sessions ...tpm2.SessionContext) error {
	f.sessionDigest = append(tpm2.Digest{}, keySign...)
	return nil
}

func (f *fakeTrialTPM) PolicyGetDigest(policySession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.Digest, error) {
	return f.sessionDigest, nil
}

func (f *fakeTrialTPM) VerifySignature(keyContext tpm2.ResourceContext, digest tpm2.Digest, signature *tpm2.Signature, sessions ...tpm2.SessionContext) (*tpm2.TkVerified, error) {
	return nil, fmt.Errorf("fakeTrialTPM: VerifySignature not implemented")
}

func (f *fakeTrialTPM) CreatePrimary(primaryObject tpm2.ResourceContext, sensitive *tpm2.SensitiveCreate, template *tpm2.Public, outsideInfo tpm2.Data, creationPCR tpm2.PCRSelectionList, session tpm2.SessionContext) (tpm2.ResourceContext, *tpm2.Public, *tpm2.CreationData, tpm2.Digest, *tpm2.TkCreation, error) {
	return nil, nil, nil, nil, nil, fmt.Errorf("fakeTrialTPM: CreatePrimary not implemented")
}

func (f *fakeTrialTPM) Create(parentContext tpm2.ResourceContext, sensitive *tpm2.SensitiveCreate, template *tpm2.Public, outsideInfo tpm2.Data, creationPCR tpm2.PCRSelectionList, parentContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.Private, *tpm2.Public, *tpm2.CreationData, tpm2.Digest, *tpm2.TkCreation, error) {
	return nil, nil, nil, nil, nil, fmt.Errorf("fakeTrialTPM: Create not implemented")
}

func (f *fakeTrialTPM) Load(parentContext tpm2.ResourceContext, inPrivate tpm2.Private, inPublic *tpm2.Public, parentContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.ResourceContext, error) {
	return nil, fmt.Errorf("fakeTrialTPM: Load not implemented")
}

func (f *fakeTrialTPM) Unseal(itemContext tpm2.ResourceContext, itemContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.SensitiveData, error) {
	return nil, fmt.Errorf("fakeTrialTPM: Unseal not implemented")
}

func (f *fakeTrialTPM) OwnerHandleContext() tpm2.ResourceContext { return nil }

func sha256Algo() *digest.AlgoInfo {
	info, _ := digest.ByID(digest.AlgorithmSHA256)
	return info
}

func (s *policySuite) TestPCRPolicyDigest(c *check.C) {
	bank := pcrbank.New(sha256Algo(), 0b1)
	bank.InitFromZero()

	tpm := &fakeTrialTPM{}
	d, err := PCRPolicyDigest(tpm, bank)
	c.Assert(err, check.IsNil)
	c.Check(len(d), check.Equals, 32)
}

func (s *policySuite) TestBuildPCRPolicyEntry(c *check.C) {
	bank := pcrbank.New(sha256Algo(), 0b1)
	bank.InitFromZero()

	entry, err := BuildPCRPolicyEntry(bank)
	c.Assert(err, check.IsNil)
	c.Check(entry.CommandCode, check.Equals, tpm2.CommandPolicyPCR)
	c.Check(len(entry.CommandPolicy) > 0, check.Equals, true)
}

func (s *policySuite) TestAuthorizedPolicyDigestDependsOnlyOnKeyName(c *check.C) {
	selection := pcrbank.Selection{Algo: sha256Algo(), Mask: 0b1}
	tpm := &fakeTrialTPM{}

	keyName := tpm2.Name("fake-key-name")
	d, err := AuthorizedPolicyDigest(tpm, selection, keyName)
	c.Assert(err, check.IsNil)
	c.Check([]byte(d), check.DeepEquals, []byte(keyName))
}
