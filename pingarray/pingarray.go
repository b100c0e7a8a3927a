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

// Package pingarray implements a fixed-capacity ring that lets a requester
// hand out an opaque ping_id token with each outstanding request, store the
// associated payload, and later verify a reply by token. It is the generic
// "pending request" store used by the conference engine's join/query
// protocol.
package pingarray

import (
	"errors"

	"github.com/confmesh/groupchat/clock"
	"github.com/confmesh/groupchat/rng"
)

// ErrInvalidArg is returned by New when size or timeout is zero, or size is
// not a power of two.
var ErrInvalidArg = errors.New("pingarray: invalid argument")

type entry struct {
	data   []byte
	time   uint64
	pingID uint64
}

func (e *entry) clear() {
	e.data = nil
	e.time = 0
	e.pingID = 0
}

// Array is a bounded, time-expiring ring buffer mapping ping_id tokens to
// stored request payloads.
type Array struct {
	entries []entry

	lastAdded   uint32
	lastDeleted uint32
	totalSize   uint32
	timeout     uint64

	clock clock.Source
	rng   rng.Source
}

// New constructs an Array with the given total size (recommended: a power
// of two, and enforced as such here — see DESIGN.md) and timeout in
// seconds. It returns ErrInvalidArg if size or timeout is zero, or size is
// not a power of two.
func New(size uint32, timeoutSeconds uint64, clk clock.Source, r rng.Source) (*Array, error) {
	if size == 0 || timeoutSeconds == 0 || size&(size-1) != 0 {
		return nil, ErrInvalidArg
	}
	return &Array{
		entries:   make([]entry, size),
		totalSize: size,
		timeout:   timeoutSeconds,
		clock:     clk,
		rng:       r,
	}, nil
}

// clearTimedOut evicts timed-out entries from the tail until a live,
// non-timed-out entry is found (or the ring is empty).
func (a *Array) clearTimedOut() {
	for a.lastDeleted != a.lastAdded {
		index := a.lastDeleted % a.totalSize
		if !a.clock.IsTimeout(a.entries[index].time, a.timeout) {
			break
		}
		a.entries[index].clear()
		a.lastDeleted++
	}
}

// Add stores data and returns a fresh ping_id such that
// ping_id mod total_size == slot index and ping_id != 0. It returns 0 if
// allocation of the backing buffer fails (never happens in Go, but the
// zero-value sentinel is preserved for protocol compatibility).
func (a *Array) Add(data []byte) uint64 {
	a.clearTimedOut()

	index := a.lastAdded % a.totalSize
	if a.entries[index].data != nil {
		// ring is full: force-evict the oldest entry.
		a.lastDeleted = a.lastAdded - a.totalSize
		a.entries[index].clear()
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	a.entries[index].data = buf
	a.entries[index].time = a.clock.UnixTime()
	a.lastAdded++

	pingID := a.rng.RandomU64()
	pingID = (pingID / uint64(a.totalSize)) * uint64(a.totalSize)
	pingID += uint64(index)
	if pingID == 0 {
		pingID += uint64(a.totalSize)
	}
	a.entries[index].pingID = pingID
	return pingID
}

// Check validates pingID and, on success, returns the stored payload and
// clears the slot — the entry is single-use. It returns (nil, false) if
// pingID is zero, the slot doesn't hold that id, the entry is timed out, or
// the slot is empty.
func (a *Array) Check(pingID uint64) ([]byte, bool) {
	if pingID == 0 {
		return nil, false
	}

	index := pingID % uint64(a.totalSize)
	e := &a.entries[index]
	if e.pingID != pingID {
		return nil, false
	}
	if a.clock.IsTimeout(e.time, a.timeout) {
		return nil, false
	}
	if e.data == nil {
		return nil, false
	}

	data := e.data
	e.clear()
	return data, true
}

// Len reports the number of slots between the eviction and insertion
// cursors. A slot already consumed by Check still counts until the
// eviction cursor passes it.
func (a *Array) Len() int {
	return int(a.lastAdded - a.lastDeleted)
}
