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

package pingarray

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confmesh/groupchat/clock"
	"github.com/confmesh/groupchat/rng"
)

func TestNewRejectsZeroOrNonPowerOfTwo(t *testing.T) {
	clk := clock.NewMock(0)
	_, err := New(0, 1, clk, rng.System{})
	assert.Equal(t, ErrInvalidArg, err)

	_, err = New(8, 0, clk, rng.System{})
	assert.Equal(t, ErrInvalidArg, err)

	_, err = New(3, 1, clk, rng.System{})
	assert.Equal(t, ErrInvalidArg, err)
}

func TestAddCheckRoundTripIsSingleUse(t *testing.T) {
	clk := clock.NewMock(1000)
	arr, err := New(8, 60, clk, rng.System{})
	assert.Nil(t, err)

	payload := []byte("request payload")
	id := arr.Add(payload)
	assert.NotZero(t, id)
	assert.Equal(t, uint64(id%8), id%8) // sanity: mod arithmetic well-defined

	got, ok := arr.Check(id)
	assert.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok = arr.Check(id)
	assert.False(t, ok)
}

func TestCheckFailsAfterTimeout(t *testing.T) {
	clk := clock.NewMock(0)
	arr, err := New(4, 5, clk, rng.System{})
	assert.Nil(t, err)

	id := arr.Add([]byte("x"))
	clk.Advance(6)

	_, ok := arr.Check(id)
	assert.False(t, ok)
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	clk := clock.NewMock(0)
	arr, err := New(4, 1000, clk, rng.System{})
	assert.Nil(t, err)

	firstID := arr.Add([]byte("first"))
	for i := 0; i < 3; i++ {
		arr.Add([]byte("filler"))
	}
	// one more add should evict the first (now-stale) slot
	arr.Add([]byte("evictor"))

	_, ok := arr.Check(firstID)
	assert.False(t, ok)
}

func TestPingIDEncodesSlotIndex(t *testing.T) {
	clk := clock.NewMock(0)
	arr, err := New(16, 60, clk, rng.System{})
	assert.Nil(t, err)

	for i := 0; i < 16; i++ {
		id := arr.Add([]byte{byte(i)})
		assert.NotZero(t, id)
		assert.Equal(t, uint64(i), id%16)
	}
}
