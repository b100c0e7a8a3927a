// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package crypto implements the authenticated-box cryptography layer:
// Curve25519 key agreement, XSalsa20-Poly1305 authenticated encryption,
// SHA-2 hashes, and the CSPRNG helpers.
//
// All asymmetric and symmetric encryption is delegated to
// golang.org/x/crypto/nacl/box; this package never implements its own
// elliptic-curve or stream-cipher arithmetic.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Fixed sizes for the key, MAC, nonce, and digest types this package deals
// in.
const (
	PublicKeySize    = 32
	SecretKeySize    = 32
	SharedKeySize    = 32
	SymmetricKeySize = 32
	MACSize          = 16
	NonceSize        = 24
	SHA256Size       = 32
	SHA512Size       = 64
)

// ErrInput is returned when an operation is given malformed or empty input.
var ErrInput = errors.New("crypto: invalid input")

// ErrAuthFailed is returned when MAC verification fails during decryption.
// It is intentionally the only failure signalled to callers decrypting
// untrusted data: a malformed ciphertext and a forged one look identical.
var ErrAuthFailed = errors.New("crypto: decryption failed")

// PublicKey, SecretKey and SharedKey are fixed-size Curve25519 keys.
type (
	PublicKey [PublicKeySize]byte
	SecretKey [SecretKeySize]byte
	SharedKey [SharedKeySize]byte
	Nonce     [NonceSize]byte
)

// NewKeyPair generates a fresh Curve25519 keypair.
func NewKeyPair() (pk PublicKey, sk SecretKey, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return pk, sk, err
	}
	return PublicKey(*pub), SecretKey(*priv), nil
}

// DerivePublicKey computes the Curve25519 base-point scalar multiply of sk,
// i.e. the public key corresponding to a given secret key.
func DerivePublicKey(sk SecretKey) PublicKey {
	var pk PublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pk), (*[32]byte)(&sk))
	return pk
}

// PrecomputeShared performs the Curve25519 + HSalsa20 "beforenm" step,
// producing a shared key that can be reused across many encrypt/decrypt
// calls between the same pair of peers.
func PrecomputeShared(peerPK PublicKey, ourSK SecretKey) SharedKey {
	var shared SharedKey
	box.Precompute((*[32]byte)(&shared), (*[32]byte)(&peerPK), (*[32]byte)(&ourSK))
	return shared
}

// EncryptSymmetric authenticates and encrypts plain under shared/nonce.
// The returned ciphertext is len(plain)+MACSize bytes, with the MAC placed
// as required by the box construction's layout (handled internally by
// nacl/box; callers never see the zero-padding it requires).
func EncryptSymmetric(shared SharedKey, nonce Nonce, plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, ErrInput
	}
	out := box.SealAfterPrecomputation(nil, plain, (*[24]byte)(&nonce), (*[32]byte)(&shared))
	return out, nil
}

// DecryptSymmetric verifies and decrypts ciphertext under shared/nonce.
func DecryptSymmetric(shared SharedKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) <= MACSize {
		return nil, ErrInput
	}
	out, ok := box.OpenAfterPrecomputation(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&shared))
	if !ok {
		return nil, ErrAuthFailed
	}
	return out, nil
}

// Encrypt precomputes a shared key from (peerPK, ourSK), symmetric-encrypts
// plain, and zeroizes the shared-key scratch on every exit path.
func Encrypt(peerPK PublicKey, ourSK SecretKey, nonce Nonce, plain []byte) ([]byte, error) {
	shared := PrecomputeShared(peerPK, ourSK)
	defer SecureZero(shared[:])
	return EncryptSymmetric(shared, nonce, plain)
}

// Decrypt is the inverse of Encrypt.
func Decrypt(peerPK PublicKey, ourSK SecretKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	shared := PrecomputeShared(peerPK, ourSK)
	defer SecureZero(shared[:])
	return DecryptSymmetric(shared, nonce, ciphertext)
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [SHA256Size]byte {
	return sha256.Sum256(data)
}

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) [SHA512Size]byte {
	return sha512.Sum512(data)
}

// PublicKeyCmp returns 0 iff a and b are equal, in constant time.
func PublicKeyCmp(a, b PublicKey) int32 {
	if subtle.ConstantTimeCompare(a[:], b[:]) == 1 {
		return 0
	}
	return -1
}

// PublicKeyValid reports whether pk is a well-formed Curve25519 public key:
// the most significant bit of the last byte must be clear.
func PublicKeyValid(pk PublicKey) bool {
	return pk[31] < 128
}

// RandomU16 returns a cryptographically random uint16.
func RandomU16() uint16 {
	var buf [2]byte
	RandomBytes(buf[:])
	return binary.BigEndian.Uint16(buf[:])
}

// RandomU32 returns a cryptographically random uint32.
func RandomU32() uint32 {
	var buf [4]byte
	RandomBytes(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

// RandomU64 returns a cryptographically random uint64.
func RandomU64() uint64 {
	var buf [8]byte
	RandomBytes(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}

// RandomBytes fills buf with cryptographically secure random bytes.
func RandomBytes(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failing means the platform RNG is broken
	}
}

// NewSymmetricKey fills a fresh 32-byte symmetric key from the CSPRNG.
func NewSymmetricKey() (key [SymmetricKeySize]byte) {
	RandomBytes(key[:])
	return key
}

// SecureZero overwrites buf with zeros in a way the compiler cannot elide.
func SecureZero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtimeKeepAlive(buf)
}
