// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

package tpmpolicy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	"github.com/canonical/go-tpm2/util"
)

// rsaSSASHA256Scheme is the signature scheme every policy signature in
// this package uses: RSASSA-PKCS1-v1.5 with SHA-256.
var rsaSSASHA256Scheme = &tpm2.SigScheme{
	Scheme: tpm2.SigSchemeAlgRSASSA,
	Details: &tpm2.SigSchemeU{
		RSASSA: &tpm2.SigSchemeRSASSA{HashAlg: tpm2.HashAlgorithmSHA256},
	},
}

// SignPolicy signs a PCR policy digest with priv, producing the RSASSA
// signature an authorized-policy assertion verifies at unseal time.
func SignPolicy(priv *rsa.PrivateKey, policyDigest []byte) (*tpm2.Signature, error) {
	sig, err := util.Sign(priv, rsaSSASHA256Scheme, policyDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	return sig, nil
}

// VerifyPolicySignature checks sig over policyDigest against pub without
// involving the TPM — used by platform adapters that unseal using an
// externally supplied signature and public key file (the old-grub
// external-signature path) rather than the TPM's own VerifySignature.
func VerifyPolicySignature(pub *rsa.PublicKey, policyDigest []byte, sig *tpm2.Signature) error {
	ok, err := util.VerifySignature(pub, policyDigest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	if !ok {
		return ErrPolicyMismatch
	}
	return nil
}

// GenerateSigningKey creates a fresh RSA signing key of the given size,
// usable with SignPolicy/VerifyPolicySignature. Key-size validation
// mirrors SetSRKRSABits's four supported sizes.
func GenerateSigningKey(bits int) (*rsa.PrivateKey, error) {
	switch bits {
	case 1024, 2048, 3072, 4096:
	default:
		return nil, fmt.Errorf("%w: unsupported signing key size %d", ErrUnsupportedAlgo, bits)
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// StorePublicKey writes pub's PKIX DER encoding, PEM-wrapped, to path.
// This is the standalone public-key export spec.md's original tool offers
// independent of sealing, used when provisioning a new signing key before
// any policy exists.
func StorePublicKey(pub *rsa.PublicKey, path string) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoError, err)
	}

	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o644)
}

// LoadSigningKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key
// from path. A PEM reader for RSA keys is the one call site in this
// package that needs stdlib crypto/x509 and encoding/pem directly — no
// pack library offers more than stdlib already does here.
func LoadSigningKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in %s", ErrCryptoError, path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key in %s is not an RSA key", ErrUnsupportedAlgo, path)
	}
	return rsaKey, nil
}

// signingKeyPublic builds the TPM public area an RSA signing key would
// have if it had been loaded into the TPM: an unrestricted signing key,
// RSASSA-SHA256 scheme, named by pub's modulus. Used only to compute the
// key's TPM Name for PolicyAuthorize's keySign parameter when the actual
// signing key never touches this TPM.
func signingKeyPublic(pub *rsa.PublicKey) *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs:   tpm2.AttrUserWithAuth | tpm2.AttrSign,
		Params: &tpm2.PublicParamsU{
			RSADetail: &tpm2.RSAParams{
				Symmetric: tpm2.SymDefObject{Algorithm: tpm2.SymObjectAlgorithmNull},
				Scheme: tpm2.RSAScheme{
					Scheme:  tpm2.RSASchemeRSASSA,
					Details: &tpm2.AsymSchemeU{RSASSA: &tpm2.SigSchemeRSASSA{HashAlg: tpm2.HashAlgorithmSHA256}},
				},
				KeyBits:  uint16(pub.N.BitLen()),
				Exponent: uint32(pub.E),
			},
		},
		Unique: &tpm2.PublicIDU{RSA: pub.N.Bytes()},
	}
}

// PublicKeyName computes the TPM Name of pub as though it were the public
// area of a loaded object: nameAlg (2 bytes, big-endian) followed by
// H(nameAlg, marshalled TPMT_PUBLIC). PolicyAuthorize's keySign parameter
// and the authorized-policy's Name-based identity both use this, even
// when pub is only ever used for host-side verification and never loaded
// into a TPM.
func PublicKeyName(pub *rsa.PublicKey) (tpm2.Name, error) {
	public := signingKeyPublic(pub)

	encoded, err := mu.MarshalToBytes(public)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}

	sum := sha256.Sum256(encoded)

	name := make(tpm2.Name, 2+len(sum))
	binary.BigEndian.PutUint16(name, uint16(tpm2.HashAlgorithmSHA256))
	copy(name[2:], sum[:])
	return name, nil
}

// LoadPublicKey reads a PEM-encoded PKIX RSA public key from path, the
// counterpart StorePublicKey writes and the old-grub external-signature
// unseal path reads back.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in %s", ErrCryptoError, path)
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: key in %s is not an RSA key", ErrUnsupportedAlgo, path)
	}
	return rsaKey, nil
}
