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

// IncrementNonce adds 1 to nonce, carrying from byte 23 down to byte 0.
// The loop bound is constant (NonceSize), never input-dependent, to avoid
// timing/bounds side channels of the kind behind the Heartbleed bug.
func IncrementNonce(nonce *Nonce) {
	carry := uint16(1)
	for i := NonceSize; i != 0; i-- {
		carry += uint16(nonce[i-1])
		nonce[i-1] = byte(carry)
		carry >>= 8
	}
}

// IncrementNonceBy adds a 32-bit host-order value to nonce, placed in the
// least-significant 4 bytes and propagated with carry across all 24 bytes.
func IncrementNonceBy(nonce *Nonce, n uint32) {
	var asNonce Nonce
	asNonce[NonceSize-4] = byte(n >> 24)
	asNonce[NonceSize-3] = byte(n >> 16)
	asNonce[NonceSize-2] = byte(n >> 8)
	asNonce[NonceSize-1] = byte(n)

	carry := uint16(0)
	for i := NonceSize; i != 0; i-- {
		carry += uint16(nonce[i-1]) + uint16(asNonce[i-1])
		nonce[i-1] = byte(carry)
		carry >>= 8
	}
}

// RandomNonce fills nonce from the CSPRNG.
func RandomNonce() Nonce {
	var n Nonce
	RandomBytes(n[:])
	return n
}
