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

package wire

import (
	"encoding/binary"
	"fmt"
)

// Handshake command tags, sent as the first byte of every frame before a
// TCPLink has completed authentication: a three-step challenge-response
// that establishes a shared key without exchanging signatures.
type HandshakeCommand byte

const (
	CommandKeyAuthInit HandshakeCommand = iota
	CommandKeyAuthChallenge
	CommandKeyAuthChallengeReply
	CommandData
)

// KeyAuthInit announces the sender's long-term Curve25519 public key,
// initiating authentication.
type KeyAuthInit struct {
	RealPublicKey [32]byte
}

func (m *KeyAuthInit) Reset()         { *m = KeyAuthInit{} }
func (m *KeyAuthInit) String() string { return "KeyAuthInit" }
func (*KeyAuthInit) ProtoMessage()    {}
func (m *KeyAuthInit) Size() int      { return 32 }
func (m *KeyAuthInit) Marshal() ([]byte, error) {
	buf := make([]byte, 32)
	copy(buf, m.RealPublicKey[:])
	return buf, nil
}
func (m *KeyAuthInit) Unmarshal(data []byte) error {
	if len(data) < 32 {
		return ErrMalformed
	}
	copy(m.RealPublicKey[:], data[:32])
	return nil
}

// KeyAuthChallenge is the responder's reply to a KeyAuthInit: an ephemeral
// public key plus a nonce-and-MAC-protected challenge encrypted under the
// shared key derived from (ephemeral secret, initiator's announced real
// public key).
type KeyAuthChallenge struct {
	EphemeralPublicKey [32]byte
	Nonce              [24]byte
	CipherText         []byte
}

func (m *KeyAuthChallenge) Reset() { *m = KeyAuthChallenge{} }
func (m *KeyAuthChallenge) String() string {
	return fmt.Sprintf("KeyAuthChallenge(%d)", len(m.CipherText))
}
func (*KeyAuthChallenge) ProtoMessage() {}
func (m *KeyAuthChallenge) Size() int   { return 32 + 24 + len(m.CipherText) }
func (m *KeyAuthChallenge) Marshal() ([]byte, error) {
	buf := make([]byte, m.Size())
	off := copy(buf, m.EphemeralPublicKey[:])
	off += copy(buf[off:], m.Nonce[:])
	copy(buf[off:], m.CipherText)
	return buf, nil
}
func (m *KeyAuthChallenge) Unmarshal(data []byte) error {
	if len(data) < 56 {
		return ErrMalformed
	}
	off := copy(m.EphemeralPublicKey[:], data[:32])
	off += copy(m.Nonce[:], data[off:off+24])
	m.CipherText = append([]byte(nil), data[off:]...)
	return nil
}

// KeyAuthChallengeReply carries the plaintext the initiator recovered,
// proving it holds the secret key matching its announced RealPublicKey.
type KeyAuthChallengeReply struct {
	PlainText []byte
}

func (m *KeyAuthChallengeReply) Reset() { *m = KeyAuthChallengeReply{} }
func (m *KeyAuthChallengeReply) String() string {
	return fmt.Sprintf("KeyAuthChallengeReply(%d)", len(m.PlainText))
}
func (*KeyAuthChallengeReply) ProtoMessage() {}
func (m *KeyAuthChallengeReply) Size() int   { return len(m.PlainText) }
func (m *KeyAuthChallengeReply) Marshal() ([]byte, error) {
	return append([]byte(nil), m.PlainText...), nil
}
func (m *KeyAuthChallengeReply) Unmarshal(data []byte) error {
	m.PlainText = append([]byte(nil), data...)
	return nil
}

// DataFrame wraps an already-encrypted Envelope for transmission once a
// TCPLink is authenticated: Nonce is the sender-side nonce counter at the
// time of encryption, CipherText is box.SealAfterPrecomputation's output.
type DataFrame struct {
	Nonce      [24]byte
	CipherText []byte
}

func (m *DataFrame) Reset()         { *m = DataFrame{} }
func (m *DataFrame) String() string { return fmt.Sprintf("DataFrame(%d)", len(m.CipherText)) }
func (*DataFrame) ProtoMessage()    {}
func (m *DataFrame) Size() int      { return 24 + len(m.CipherText) }
func (m *DataFrame) Marshal() ([]byte, error) {
	buf := make([]byte, m.Size())
	off := copy(buf, m.Nonce[:])
	copy(buf[off:], m.CipherText)
	return buf, nil
}
func (m *DataFrame) Unmarshal(data []byte) error {
	if len(data) < 24 {
		return ErrMalformed
	}
	off := copy(m.Nonce[:], data[:24])
	m.CipherText = append([]byte(nil), data[off:]...)
	return nil
}

// PutCommandFrame marshals a command tag followed by a marshaled message
// into a single length-prefixed frame, ready to write to a stream.
func PutCommandFrame(cmd HandshakeCommand, body []byte) []byte {
	frame := make([]byte, FrameLength+1+len(body))
	binary.BigEndian.PutUint32(frame, uint32(1+len(body)))
	frame[FrameLength] = byte(cmd)
	copy(frame[FrameLength+1:], body)
	return frame
}
