// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/linux"
	"github.com/pkg/errors"
)

// TPMContext is the subset of *tpm2.TPMContext this package drives. It is
// declared locally, narrowed to exactly the commands the policy builder
// and seal/unseal operations need, so tests can substitute a fake without
// pulling in a real device.
type TPMContext interface {
	StartAuthSession(tpmKey, bind tpm2.ResourceContext, sessionType tpm2.SessionType, symmetric *tpm2.SymDef, authHash tpm2.HashAlgorithmId, sessions ...tpm2.SessionContext) (tpm2.SessionContext, error)
	FlushContext(handleContext tpm2.HandleContext) error
	PolicyPCR(policySession tpm2.SessionContext, pcrDigest tpm2.Digest, pcrs tpm2.PCRSelectionList, sessions ...tpm2.SessionContext) error
	PolicyAuthorize(policySession tpm2.SessionContext, approvedPolicy tpm2.Digest, policyRef tpm2.Nonce, keySign tpm2.Name, checkTicket *tpm2.TkVerified, sessions ...tpm2.SessionContext) error
	PolicyGetDigest(policySession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.Digest, error)
	VerifySignature(keyContext tpm2.ResourceContext, digest tpm2.Digest, signature *tpm2.Signature, sessions ...tpm2.SessionContext) (*tpm2.TkVerified, error)
	CreatePrimary(primaryObject tpm2.ResourceContext, sensitive *tpm2.SensitiveCreate, template *tpm2.Public, outsideInfo tpm2.Data, creationPCR tpm2.PCRSelectionList, session tpm2.SessionContext) (tpm2.ResourceContext, *tpm2.Public, *tpm2.CreationData, tpm2.Digest, *tpm2.TkCreation, error)
	Create(parentContext tpm2.ResourceContext, sensitive *tpm2.SensitiveCreate, template *tpm2.Public, outsideInfo tpm2.Data, creationPCR tpm2.PCRSelectionList, parentContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.Private, *tpm2.Public, *tpm2.CreationData, tpm2.Digest, *tpm2.TkCreation, error)
	Load(parentContext tpm2.ResourceContext, inPrivate tpm2.Private, inPublic *tpm2.Public, parentContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.ResourceContext, error)
	Unseal(itemContext tpm2.ResourceContext, itemContextAuthSession tpm2.SessionContext, sessions ...tpm2.SessionContext) (tpm2.SensitiveData, error)
	OwnerHandleContext() tpm2.ResourceContext
}

// OpenDefaultTPM acquires the single ESYS-style context this process uses
// for the rest of its lifetime: the local resource-managed TPM device.
// Callers must Close the returned context exactly once, on every exit
// path, per spec §5.
func OpenDefaultTPM() (*tpm2.TPMContext, error) {
	device, err := linux.DefaultTPM2Device()
	if err != nil {
		return nil, errors.Wrap(err, "no TPM2 device found")
	}

	managed, err := device.ResourceManagedDevice()
	if err != nil {
		return nil, errors.Wrap(err, "cannot open resource-managed TPM device")
	}

	ctx, err := tpm2.OpenTPMDevice(managed)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open TPM context")
	}

	return ctx, nil
}

// startTrialSession starts a SessionTypeTrial session for computing a
// policy digest without touching any real object, and returns a function
// that flushes it. Callers should defer the returned function immediately.
func startTrialSession(tpm TPMContext, algo tpm2.HashAlgorithmId) (tpm2.SessionContext, func(), error) {
	session, err := tpm.StartAuthSession(nil, nil, tpm2.SessionTypeTrial, nil, algo)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot start trial session")
	}
	return session, func() { tpm.FlushContext(session) }, nil
}

// startPolicySession starts a real SessionTypePolicy session used to
// authorize a seal/unseal operation.
func startPolicySession(tpm TPMContext, algo tpm2.HashAlgorithmId) (tpm2.SessionContext, func(), error) {
	session, err := tpm.StartAuthSession(nil, nil, tpm2.SessionTypePolicy, nil, algo)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot start policy session")
	}
	return session, func() { tpm.FlushContext(session) }, nil
}
