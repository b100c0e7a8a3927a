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

// Package transport provides the byte-pipe abstraction the conference
// engine runs on: one FriendLink per already-established one-to-one
// friend connection, carrying both lossless (ordered, reliable) and
// lossy (best-effort) conference packets. The engine never dials or
// accepts connections itself — it is handed links that are already up.
package transport

// FriendLink is a single underlying connection to one friend, shared by
// every conference the two peers have in common. The conference engine
// multiplexes its own traffic over it by conference identifier, the way
// group chat packets are multiplexed over the existing friend connection
// in the system this engine is modeled on.
type FriendLink interface {
	// SendLossless queues payload for reliable, ordered delivery.
	SendLossless(payload []byte) error
	// SendLossy best-effort sends payload; it may be dropped or reordered.
	SendLossy(payload []byte) error

	// OnLosslessPacket registers the handler invoked for each inbound
	// lossless payload. Only one handler is active at a time; a later
	// call replaces the previous one.
	OnLosslessPacket(func(payload []byte))
	// OnLossyPacket registers the handler invoked for each inbound lossy
	// payload.
	OnLossyPacket(func(payload []byte))
	// OnStatusChange registers the handler invoked when the link goes
	// online or offline.
	OnStatusChange(func(online bool))

	// Online reports whether the link currently believes its peer is
	// reachable.
	Online() bool
}
