// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package platform

import (
	"fmt"
	"testing"

	"github.com/canonical/go-tpm2"

	"gopkg.in/check.v1"

	"github.com/suse-edge/pcrseal/digest"
	"github.com/suse-edge/pcrseal/pcrbank"
	"github.com/suse-edge/pcrseal/tpmpolicy"
)

func Test(t *testing.T) { check.TestingT(t) }

type platformSuite struct{}

var _ = check.Suite(&platformSuite{})

func fakeSealedBlob() *tpmpolicy.SealedBlob {
	return &tpmpolicy.SealedBlob{
		Public: &tpm2.Public{
			Type:    tpm2.ObjectTypeKeyedHash,
			NameAlg: tpm2.HashAlgorithmSHA256,
			Attrs:   tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
			Params: &tpm2.PublicParamsU{
				KeyedHashDetail: &tpm2.KeyedHashParams{
					Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
				},
			},
		},
		Private: tpm2.Private("fake private blob"),
	}
}

func (s *platformSuite) TestOldGrubSealedSecretRoundTrip(c *check.C) {
	blob := fakeSealedBlob()

	data, err := WriteOldGrubSealedSecret(blob)
	c.Assert(err, check.IsNil)

	got, err := ReadOldGrubSealedSecret(data)
	c.Assert(err, check.IsNil)
	c.Check(got.Public.Type, check.Equals, blob.Public.Type)
	c.Check(got.Private, check.DeepEquals, blob.Private)
}

func (s *platformSuite) TestOldGrubSignedPolicyRoundTrip(c *check.C) {
	sig := &tpm2.Signature{
		SigAlg: tpm2.SigSchemeAlgRSASSA,
		Signature: &tpm2.SignatureU{
			RSASSA: &tpm2.SignatureRSASSA{Hash: tpm2.HashAlgorithmSHA256, Sig: []byte("signature bytes")},
		},
	}

	data, err := WriteOldGrubSignedPolicy(sig)
	c.Assert(err, check.IsNil)

	got, err := ReadOldGrubSignedPolicy(data)
	c.Assert(err, check.IsNil)
	c.Check(got.SigAlg, check.Equals, sig.SigAlg)
	c.Check(got.Signature.RSASSA.Sig, check.DeepEquals, sig.Signature.RSASSA.Sig)
}

func (s *platformSuite) TestTPM2KeyRoundTrip(c *check.C) {
	blob := fakeSealedBlob()
	policy := []tpmpolicy.PolicySequenceEntry{
		{CommandCode: tpm2.CommandPolicyPCR, CommandPolicy: []byte("policy params")},
	}

	data, err := WriteTPM2Key(blob, policy)
	c.Assert(err, check.IsNil)

	gotBlob, gotPolicy, err := ReadTPM2Key(data)
	c.Assert(err, check.IsNil)
	c.Check(gotBlob.Public.Type, check.Equals, blob.Public.Type)
	c.Assert(gotPolicy, check.HasLen, 1)
	c.Check(gotPolicy[0].CommandCode, check.Equals, tpm2.CommandPolicyPCR)
	c.Check(gotPolicy[0].CommandPolicy, check.DeepEquals, []byte("policy params"))
}

func (s *platformSuite) TestPCRMaskIndicesStartsAtZero(c *check.C) {
	c.Check(pcrMaskIndices(0b1), check.DeepEquals, []int{0})
	c.Check(pcrMaskIndices(0b10010101), check.DeepEquals, []int{0, 2, 4, 7})
	c.Check(pcrMaskIndices(0), check.IsNil)
}

func (s *platformSuite) TestSystemdDocumentRoundTrip(c *check.C) {
	doc := SystemdDocument{
		"sha256": []SystemdPolicyEntry{
			{
				PCRs:            []int{0, 2, 4, 7},
				PublicKeyFprHex: "aabbcc",
				PolicyDigestHex: "ddeeff",
				SignatureBase64: "c2lnbmF0dXJl",
			},
		},
	}

	data, err := WriteSystemdDocument(doc)
	c.Assert(err, check.IsNil)
	c.Check(string(data), check.Matches, `.*"pkfp":"aabbcc".*`)
	c.Check(string(data), check.Matches, `.*"pol":"ddeeff".*`)

	got, err := ReadSystemdDocument(data)
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, doc)
}

// fakeTrialTPM drives a trial-session PCR policy digest computation well
// enough for AppendSystemdEntry's call into tpmpolicy.PCRPolicyDigest:
// PolicyPCR folds the caller's synthesized PCR digest into the session
// state, so distinct banks yield distinct policy digests as the real TPM
// would. Every other TPMContext method is unused by that path.
type fakeTrialTPM struct {
	sessionDigest tpm2.Digest
}

func (f *fakeTrialTPM) StartAuthSession(tpmKey, bind tpm2.ResourceContext, sessionType tpm2.SessionType, symmetric *tpm2.SymDef, authHash tpm2.HashAlgorithmId, sessions ...tpm2.SessionContext) (tpm2.SessionContext, error) {
	f.sessionDigest = make(tpm2.Digest, 32)
	return nil, nil
}

func (f *fakeTrialTPM) FlushContext(handleContext tpm2.HandleContext) error { return nil }

func (f *fakeTrialTPM) PolicyPCR(policySession tpm2.SessionContext, pcrDigest tpm2.Digest, pcrs tpm2.PCRSelectionList, sessions ...tpm2.SessionContext) error {
	h := make(tpm2.Digest, len(pcrDigest))
	copy(h, pcrDigest)
	f.sessionDigest = h
	return nil
}

func (f *fakeTrialTPM) PolicyAuthorize(policySession tpm2.SessionContext, approvedPolicy tpm2.Digest, policyRef tpm2.Nonce, keySign tpm2.Name, checkTicket *tpm2.TkVerified, sessions ...tpm2.SessionContext) error {
	return fmt.Errorf("fakeTrialTPM: PolicyAuthorize not implemented")
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

func (s *platformSuite) TestAppendSystemdEntryUpsertsByPolicyDigest(c *check.C) {
	sha256Info, _ := digest.ByID(digest.AlgorithmSHA256)
	bank := pcrbank.New(sha256Info, 0b101)
	bank.InitFromZero()

	priv, err := tpmpolicy.GenerateSigningKey(2048)
	c.Assert(err, check.IsNil)

	doc := SystemdDocument{}
	tpm := &fakeTrialTPM{}

	c.Assert(AppendSystemdEntry(doc, "sha256", tpm, bank, priv), check.IsNil)
	c.Assert(doc["sha256"], check.HasLen, 1)
	first := doc["sha256"][0]

	// Calling again with the same bank and key recomputes the same
	// policy digest and must overwrite the existing entry in place
	// rather than appending a duplicate.
	c.Assert(AppendSystemdEntry(doc, "sha256", tpm, bank, priv), check.IsNil)
	c.Assert(doc["sha256"], check.HasLen, 1)
	c.Check(doc["sha256"][0].PolicyDigestHex, check.Equals, first.PolicyDigestHex)
	c.Check(doc["sha256"][0].PCRs, check.DeepEquals, first.PCRs)

	// A different PCR mask (and thus a different policy digest) must
	// append a second, distinct entry instead of overwriting the first.
	other := pcrbank.New(sha256Info, 0b1)
	other.InitFromZero()
	c.Assert(AppendSystemdEntry(doc, "sha256", tpm, other, priv), check.IsNil)
	c.Assert(doc["sha256"], check.HasLen, 2)
}

func (s *platformSuite) TestCapabilities(c *check.C) {
	caps, ok := Capabilities(OldGrub)
	c.Assert(ok, check.Equals, true)
	c.Check(caps, check.DeepEquals, []Capability{NeedsInputFile, NeedsOutputFile, NeedsPCRSelection})

	caps, ok = Capabilities(Systemd)
	c.Assert(ok, check.Equals, true)
	c.Check(caps, check.DeepEquals, []Capability{NeedsOutputFile})

	_, ok = Capabilities("bogus")
	c.Check(ok, check.Equals, false)
}
