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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPairDerivesPublicKey(t *testing.T) {
	pk, sk, err := NewKeyPair()
	assert.Nil(t, err)
	assert.Equal(t, pk, DerivePublicKey(sk))
	assert.True(t, PublicKeyValid(pk))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pkA, skA, err := NewKeyPair()
	assert.Nil(t, err)
	pkB, skB, err := NewKeyPair()
	assert.Nil(t, err)

	nonce := RandomNonce()
	msg := []byte("hello conference")

	ciphertext, err := Encrypt(pkB, skA, nonce, msg)
	assert.Nil(t, err)
	assert.Equal(t, len(msg)+MACSize, len(ciphertext))

	plain, err := Decrypt(pkA, skB, nonce, ciphertext)
	assert.Nil(t, err)
	assert.Equal(t, msg, plain)
}

func TestPrecomputeIsSymmetric(t *testing.T) {
	pkA, skA, err := NewKeyPair()
	assert.Nil(t, err)
	pkB, skB, err := NewKeyPair()
	assert.Nil(t, err)

	assert.Equal(t, PrecomputeShared(pkB, skA), PrecomputeShared(pkA, skB))
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	pkA, skA, err := NewKeyPair()
	assert.Nil(t, err)
	pkB, skB, err := NewKeyPair()
	assert.Nil(t, err)

	nonce := RandomNonce()
	ciphertext, err := Encrypt(pkB, skA, nonce, []byte("flip a bit"))
	assert.Nil(t, err)

	ciphertext[0] ^= 0x01
	_, err = Decrypt(pkA, skB, nonce, ciphertext)
	assert.Equal(t, ErrAuthFailed, err)
}

func TestPublicKeyCmp(t *testing.T) {
	pk, _, err := NewKeyPair()
	assert.Nil(t, err)
	assert.Equal(t, int32(0), PublicKeyCmp(pk, pk))

	other, _, err := NewKeyPair()
	assert.Nil(t, err)
	assert.NotEqual(t, int32(0), PublicKeyCmp(pk, other))
}

func TestEncryptSymmetricRejectsEmptyPlaintext(t *testing.T) {
	var shared SharedKey
	nonce := RandomNonce()
	_, err := EncryptSymmetric(shared, nonce, nil)
	assert.Equal(t, ErrInput, err)
}

func TestDecryptSymmetricRejectsShortCiphertext(t *testing.T) {
	var shared SharedKey
	nonce := RandomNonce()
	_, err := DecryptSymmetric(shared, nonce, make([]byte, MACSize))
	assert.Equal(t, ErrInput, err)
}

func TestIncrementNonceCarries(t *testing.T) {
	var n Nonce
	n[NonceSize-1] = 0xFF
	IncrementNonce(&n)
	assert.Equal(t, byte(0), n[NonceSize-1])
	assert.Equal(t, byte(1), n[NonceSize-2])
}

func TestIncrementNonceByPlacesBigEndianValue(t *testing.T) {
	var n Nonce
	IncrementNonceBy(&n, 0xFFFFFFFF)
	assert.Equal(t, byte(0xFF), n[NonceSize-1])
	assert.Equal(t, byte(0xFF), n[NonceSize-2])
	assert.Equal(t, byte(0xFF), n[NonceSize-3])
	assert.Equal(t, byte(0xFF), n[NonceSize-4])
	for i := 0; i < NonceSize-4; i++ {
		assert.Equal(t, byte(0), n[i])
	}
}

func TestIncrementNonceWrapsSilently(t *testing.T) {
	var n Nonce
	for i := range n {
		n[i] = 0xFF
	}
	IncrementNonce(&n)
	for i := range n {
		assert.Equal(t, byte(0), n[i])
	}
}
