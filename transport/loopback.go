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

package transport

import "sync"

// LoopbackPair wires two in-process FriendLinks directly together, with no
// network or encryption involved. It is meant for deterministic unit and
// integration tests of the conference engine, standing in for a real
// transport the way an in-memory pipe stands in for a socket in tests.
type LoopbackPair struct {
	A, B *Loopback
}

// NewLoopbackPair builds a connected pair of Loopback links, each
// delivering what the other sends.
func NewLoopbackPair() *LoopbackPair {
	a := &Loopback{online: true}
	b := &Loopback{online: true}
	a.peer = b
	b.peer = a
	return &LoopbackPair{A: a, B: b}
}

// Loopback is an in-memory FriendLink. Sends are delivered synchronously
// to the peer's registered handler on the caller's goroutine, which is
// adequate for tests that drive the engine from a single goroutine.
type Loopback struct {
	mu     sync.Mutex
	peer   *Loopback
	online bool

	onLossless func([]byte)
	onLossy    func([]byte)
	onStatus   func(bool)
}

// SendLossless implements FriendLink.
func (l *Loopback) SendLossless(payload []byte) error {
	return l.deliver(payload, false)
}

// SendLossy implements FriendLink.
func (l *Loopback) SendLossy(payload []byte) error {
	return l.deliver(payload, true)
}

func (l *Loopback) deliver(payload []byte, lossy bool) error {
	l.mu.Lock()
	peer := l.peer
	online := l.online
	l.mu.Unlock()

	if !online {
		return ErrLinkOffline
	}

	peer.mu.Lock()
	var handler func([]byte)
	if lossy {
		handler = peer.onLossy
	} else {
		handler = peer.onLossless
	}
	peer.mu.Unlock()

	if handler != nil {
		cp := append([]byte(nil), payload...)
		handler(cp)
	}
	return nil
}

// OnLosslessPacket implements FriendLink.
func (l *Loopback) OnLosslessPacket(f func([]byte)) {
	l.mu.Lock()
	l.onLossless = f
	l.mu.Unlock()
}

// OnLossyPacket implements FriendLink.
func (l *Loopback) OnLossyPacket(f func([]byte)) {
	l.mu.Lock()
	l.onLossy = f
	l.mu.Unlock()
}

// OnStatusChange implements FriendLink.
func (l *Loopback) OnStatusChange(f func(bool)) {
	l.mu.Lock()
	l.onStatus = f
	l.mu.Unlock()
}

// Online implements FriendLink.
func (l *Loopback) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// SetOnline flips the link's simulated reachability and notifies the
// registered status handler, letting tests exercise disconnect/reconnect
// behavior without a real network.
func (l *Loopback) SetOnline(online bool) {
	l.mu.Lock()
	l.online = online
	handler := l.onStatus
	l.mu.Unlock()
	if handler != nil {
		handler(online)
	}
}
