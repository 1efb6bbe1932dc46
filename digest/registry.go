// This file is part of pcrseal
// SPDX-License-Identifier: GPL-3.0-only

// Package digest maps TCG algorithm IDs to names and digest sizes, and
// computes digests over byte ranges. The algorithm IDs are the same
// numeric space as TPM_ALG_ID; the registry additionally learns
// vendor-declared algorithms from a log's Spec ID Event (see the eventlog
// package) the way the original event log parser does.
package digest

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sync"
)

// AlgorithmID is a TCG/TPM algorithm identifier, as it appears in a
// crypto-agile event log record or a TPMT_HA structure.
type AlgorithmID uint16

// Algorithm IDs used by the event log and PCR bank. Values match TPM_ALG_ID.
const (
	AlgorithmSHA1   AlgorithmID = 0x0004
	AlgorithmSHA256 AlgorithmID = 0x000B
	AlgorithmSHA384 AlgorithmID = 0x000C
	AlgorithmSHA512 AlgorithmID = 0x000D
)

// AlgoInfo describes one digest algorithm: its canonical name and digest
// size in bytes.
type AlgoInfo struct {
	ID         AlgorithmID
	Name       string
	DigestSize int
	cryptoHash crypto.Hash
}

// New returns a fresh hash.Hash for this algorithm, or nil if the
// algorithm has no associated Go hash implementation (a vendor-declared
// algorithm learned only by name and size).
func (a *AlgoInfo) New() hash.Hash {
	if a.cryptoHash == 0 || !a.cryptoHash.Available() {
		return nil
	}
	return a.cryptoHash.New()
}

var (
	mu       sync.Mutex
	builtins = map[AlgorithmID]*AlgoInfo{
		AlgorithmSHA1:   {ID: AlgorithmSHA1, Name: "sha1", DigestSize: sha1.Size, cryptoHash: crypto.SHA1},
		AlgorithmSHA256: {ID: AlgorithmSHA256, Name: "sha256", DigestSize: sha256.Size, cryptoHash: crypto.SHA256},
		AlgorithmSHA384: {ID: AlgorithmSHA384, Name: "sha384", DigestSize: sha512.Size384, cryptoHash: crypto.SHA384},
		AlgorithmSHA512: {ID: AlgorithmSHA512, Name: "sha512", DigestSize: sha512.Size, cryptoHash: crypto.SHA512},
	}
	// learned holds algorithms synthesized from a log's Spec ID Event
	// header for IDs we don't have a built-in for.
	learned = map[AlgorithmID]*AlgoInfo{}
)

// ByID returns the AlgoInfo for a known or previously-learned algorithm.
// ok is false if the algorithm is neither built in nor learned.
func ByID(id AlgorithmID) (info *AlgoInfo, ok bool) {
	mu.Lock()
	defer mu.Unlock()

	if info, ok = builtins[id]; ok {
		return info, true
	}
	info, ok = learned[id]
	return info, ok
}

// ByName returns the AlgoInfo for a built-in algorithm by its canonical
// lowercase name (e.g. "sha256").
func ByName(name string) (info *AlgoInfo, ok bool) {
	mu.Lock()
	defer mu.Unlock()

	for _, a := range builtins {
		if a.Name == name {
			return a, true
		}
	}
	for _, a := range learned {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Learn registers an algorithm ID declared by a log's Spec ID Event header
// that isn't one of the built-ins. If id is already a built-in, Learn
// compares the declared size against the built-in size and returns a
// warning describing the conflict (the caller decides whether to surface
// it) instead of overriding the built-in.
func Learn(id AlgorithmID, declaredSize int) (warning string) {
	mu.Lock()
	defer mu.Unlock()

	if existing, ok := builtins[id]; ok {
		if existing.DigestSize != declaredSize {
			return fmt.Sprintf("conflicting digest size for %s: built-in %d versus declared %d",
				existing.Name, existing.DigestSize, declaredSize)
		}
		return ""
	}

	if _, ok := learned[id]; ok {
		return ""
	}

	learned[id] = &AlgoInfo{
		ID:         id,
		Name:       fmt.Sprintf("TPM2_ALG_%d", id),
		DigestSize: declaredSize,
	}
	return ""
}

// Reset clears any algorithms learned via Learn. Intended for tests that
// need a clean registry between event logs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	learned = map[AlgorithmID]*AlgoInfo{}
}

// Digest is a single algorithm/value pair, as carried by an Event or a
// PcrBank register.
type Digest struct {
	Algo  *AlgoInfo
	Bytes []byte
}

// Invalid reports whether this digest is one of the sentinel values the
// PCR bank simulator treats as "register unused": all zero bytes, or all
// 0xFF bytes.
func (d Digest) Invalid() bool {
	if len(d.Bytes) == 0 {
		return true
	}
	allZero, allFF := true, true
	for _, b := range d.Bytes {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allFF = false
		}
	}
	return allZero || allFF
}

// Compute hashes data with algo, returning a Digest.
func Compute(algo *AlgoInfo, data []byte) (Digest, error) {
	h := algo.New()
	if h == nil {
		return Digest{}, fmt.Errorf("digest: no hash implementation available for %s", algo.Name)
	}
	h.Write(data)
	return Digest{Algo: algo, Bytes: h.Sum(nil)}, nil
}

// Extend computes H(previous || next) using algo, the update rule PCR
// registers use.
func Extend(algo *AlgoInfo, previous, next []byte) (Digest, error) {
	h := algo.New()
	if h == nil {
		return Digest{}, fmt.Errorf("digest: no hash implementation available for %s", algo.Name)
	}
	h.Write(previous)
	h.Write(next)
	return Digest{Algo: algo, Bytes: h.Sum(nil)}, nil
}
