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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoopbackDeliversLosslessAndLossy(t *testing.T) {
	pair := NewLoopbackPair()

	var gotLossless, gotLossy []byte
	pair.B.OnLosslessPacket(func(p []byte) { gotLossless = p })
	pair.B.OnLossyPacket(func(p []byte) { gotLossy = p })

	assert.Nil(t, pair.A.SendLossless([]byte("reliable")))
	assert.Equal(t, []byte("reliable"), gotLossless)

	assert.Nil(t, pair.A.SendLossy([]byte("best-effort")))
	assert.Equal(t, []byte("best-effort"), gotLossy)
}

func TestLoopbackOfflineRejectsSend(t *testing.T) {
	pair := NewLoopbackPair()

	var statuses []bool
	pair.A.OnStatusChange(func(online bool) { statuses = append(statuses, online) })

	pair.A.SetOnline(false)
	assert.Equal(t, ErrLinkOffline, pair.A.SendLossless([]byte("x")))
	assert.Equal(t, []bool{false}, statuses)

	pair.A.SetOnline(true)
	assert.Nil(t, pair.A.SendLossless([]byte("x")))
}
