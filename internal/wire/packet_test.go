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
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/assert"
)

func TestEnvelopeMarshalUnmarshalRoundTrip(t *testing.T) {
	var e Envelope
	e.Identifier[0] = 7
	e.SenderRealPK[1] = 9
	e.Kind = KindMessage
	e.Seq = 42
	e.Body = []byte("hello group")

	buf, err := proto.Marshal(&e)
	assert.Nil(t, err)
	assert.Equal(t, e.Size(), len(buf))

	var got Envelope
	assert.Nil(t, proto.Unmarshal(buf, &got))
	assert.Equal(t, e.Identifier, got.Identifier)
	assert.Equal(t, e.SenderRealPK, got.SenderRealPK)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.Seq, got.Seq)
	assert.Equal(t, e.Body, got.Body)
}

func TestEnvelopeUnmarshalRejectsShortInput(t *testing.T) {
	var e Envelope
	assert.Equal(t, ErrMalformed, e.Unmarshal([]byte{1, 2, 3}))
}

func TestEnvelopeUnmarshalRejectsTruncatedBody(t *testing.T) {
	var e Envelope
	e.Body = []byte("abcdef")
	buf, err := e.Marshal()
	assert.Nil(t, err)

	truncated := buf[:len(buf)-3]
	var got Envelope
	assert.Equal(t, ErrMalformed, got.Unmarshal(truncated))
}

func TestPeerListEncodeDecodeRoundTrip(t *testing.T) {
	peers := []PeerDescriptor{
		{Nick: []byte("alice")},
		{Nick: []byte("bob")},
	}
	peers[0].RealPK[0] = 1
	peers[1].RealPK[0] = 2

	body := EncodePeerList(peers)
	got, err := DecodePeerList(body)
	assert.Nil(t, err)
	assert.Equal(t, peers, got)
}

func TestPeerListDecodeRejectsTruncated(t *testing.T) {
	_, err := DecodePeerList([]byte{0, 1})
	assert.Equal(t, ErrMalformed, err)
}
