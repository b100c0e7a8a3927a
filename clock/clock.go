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

// Package clock provides the monotonic time collaborator used by the
// ping array and the conference engine, exposed as an interface so tests
// can inject deterministic time instead of depending on the wall clock.
package clock

import "time"

// Source is the monotonic clock collaborator.
type Source interface {
	// UnixTime returns the current time as seconds since the epoch.
	UnixTime() uint64
	// IsTimeout reports whether t (seconds) is older than timeoutSeconds.
	IsTimeout(t uint64, timeoutSeconds uint64) bool
}

// System is the real wall-clock Source.
type System struct{}

// UnixTime implements Source.
func (System) UnixTime() uint64 {
	return uint64(time.Now().Unix())
}

// IsTimeout implements Source.
func (System) IsTimeout(t uint64, timeoutSeconds uint64) bool {
	return System{}.UnixTime() >= t+timeoutSeconds
}

// Mock is a deterministic Source for tests: it never advances on its own,
// callers move it forward explicitly with Advance.
type Mock struct {
	now uint64
}

// NewMock creates a Mock starting at the given unix time.
func NewMock(start uint64) *Mock {
	return &Mock{now: start}
}

// UnixTime implements Source.
func (m *Mock) UnixTime() uint64 { return m.now }

// IsTimeout implements Source.
func (m *Mock) IsTimeout(t uint64, timeoutSeconds uint64) bool {
	return m.now >= t+timeoutSeconds
}

// Advance moves the mock clock forward by seconds.
func (m *Mock) Advance(seconds uint64) { m.now += seconds }
