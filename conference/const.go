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

// Package conference implements the group-chat engine: conference
// lifecycle, the closest-peer mesh, message/title/name synchronization,
// lossy packet routing, and the invite/join handshake, all layered over
// transport.FriendLink byte pipes.
package conference

// Wire-visible constants, unchanged from the system this engine models.
const (
	MaxLossyCount           = 256
	DesiredCloseConnections = 4
	GroupIdentifierLength   = 33
	MaxNameLength           = 128
	MaxNickLength           = 255
	GroupChatTypeText       = 0
	GroupChatTypeAV         = 1
	GroupAudioPacketID      = 192

	lastMessageNumberSlots = 9
)

// NamelistChange values passed to the namelist-change callback.
type NamelistChange int

const (
	ChatChangeOccurred NamelistChange = iota
	ChatChangePeerName
)

// Periodic-tick tunables, in seconds (Tick works off clock.Source.UnixTime,
// not wall-clock timers). Nothing in the contract pins exact durations,
// only that inactivity and retry backoff are enforced.
const (
	inactivitySeconds    = 60
	pingIntervalSeconds  = 15
	closeCheckSeconds    = 5
	joinRetryBaseSeconds = 3
	joinRetryMaxSeconds  = 300

	pingArraySize    = 256
	pingArrayTimeout = 10
)
