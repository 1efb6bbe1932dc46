// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"fmt"
	"sync"

	"github.com/canonical/go-tpm2"
)

// srkRSABits is the RSA key size used for the Storage Root Key template,
// mutable only through SetSRKRSABits — mirroring the single C global
// `set_srk_rsa_bits` controls, rather than threading a parameter through
// every call that needs a primary key.
var (
	srkMu      sync.Mutex
	srkRSABits uint16 = 2048
)

// SetSRKRSABits changes the RSA key size future SRK templates are built
// with. bits must be one of the four sizes the TPM 2.0 profile supports.
func SetSRKRSABits(bits int) error {
	switch bits {
	case 1024, 2048, 3072, 4096:
	default:
		return fmt.Errorf("%w: unsupported SRK RSA key size %d", ErrUnsupportedAlgo, bits)
	}

	srkMu.Lock()
	defer srkMu.Unlock()
	srkRSABits = uint16(bits)
	return nil
}

// srkTemplate builds the fixed Storage Root Key template: an RSA
// restricted decrypt primary with an AES-128-CFB inner symmetric
// algorithm, matching the attribute set spec §4.H names
// (NODA | FIXED_TPM | FIXED_PARENT | SENSITIVE_DATA_ORIGIN | USER_WITH_AUTH).
func srkTemplate() *tpm2.Public {
	srkMu.Lock()
	bits := srkRSABits
	srkMu.Unlock()

	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs: tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin |
			tpm2.AttrUserWithAuth | tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Symmetric: tpm2.SymDefObject{
					Algorithm: tpm2.SymObjectAlgorithmAES,
					KeyBits:   &tpm2.SymKeyBitsU{Sym: 128},
					Mode:      &tpm2.SymModeU{Sym: tpm2.SymModeCFB},
				},
				Scheme:   tpm2.RSAScheme{Scheme: tpm2.RSASchemeNull},
				KeyBits:  bits,
				Exponent: 0,
			},
		},
		Unique: &tpm2.PublicIDU{RSA: make(tpm2.PublicKeyRSA, bits/8)},
	}
}

// keyedHashTemplate builds the template for the sealed KEYED_HASH data
// object: no scheme (a pure data blob), authorized only via the supplied
// policy digest — no password, no HMAC key.
func keyedHashTemplate(policyDigest tpm2.Digest) *tpm2.Public {
	return &tpm2.Public{
		Type:       tpm2.ObjectTypeKeyedHash,
		NameAlg:    tpm2.HashAlgorithmSHA256,
		Attrs:      tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		AuthPolicy: policyDigest,
		Params: &tpm2.PublicParamsU{
			KeyedHashDetail: &tpm2.KeyedHashParams{
				Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.KeyedHashSchemeNull},
			},
		},
	}
}
