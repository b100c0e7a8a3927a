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

// Package wire implements the conference engine's packet codec.
//
// Every packet is a single Envelope, framed with a 4-byte length prefix
// around the marshaled bytes, and marshaled through gogo/protobuf's
// Marshaler/Unmarshaler fast path by hand-implementing Marshal/Unmarshal/
// Size directly on each type, without requiring protoc-generated
// descriptors.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketKind identifies the kind of conference packet carried in an Envelope.
type PacketKind byte

// Packet kinds. Values are wire-stable within this module; this is a
// fresh assignment for a new network, not constrained by any prior wire
// format.
const (
	KindInvite PacketKind = iota
	KindJoin
	KindPeerQuery
	KindPeerResponse
	KindMessage
	KindLossy
	KindPing
	KindPingReply
	KindNameChange
	KindTitle
)

func (k PacketKind) String() string {
	switch k {
	case KindInvite:
		return "invite"
	case KindJoin:
		return "join"
	case KindPeerQuery:
		return "peer_query"
	case KindPeerResponse:
		return "peer_response"
	case KindMessage:
		return "message"
	case KindLossy:
		return "lossy"
	case KindPing:
		return "ping"
	case KindPingReply:
		return "ping_reply"
	case KindNameChange:
		return "name_change"
	case KindTitle:
		return "title"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// ErrMalformed is returned when an Envelope cannot be decoded.
var ErrMalformed = errors.New("wire: malformed packet")

const (
	identifierSize = 33
	pubKeySize     = 32
	headerSize     = identifierSize + 1 /*kind*/ + pubKeySize*2 /*sender real+temp pk*/ + 8 /*seq*/ + 4 /*body len*/
)

// Envelope is the single packet shape carried over a FriendLink. Identifier
// routes the packet to a conference; Kind selects how Body is interpreted;
// Seq carries message_number, lossy_message_number, or a ping_id (all of
// which fit in 64 bits, ping_id being the widest) depending on Kind;
// SenderRealPK/SenderTempPK let the receiver learn or confirm the sending
// peer's identity without a separate lookup round-trip.
type Envelope struct {
	Identifier   [33]byte
	Kind         PacketKind
	SenderRealPK [32]byte
	SenderTempPK [32]byte
	Seq          uint64
	Body         []byte
}

// Reset implements gogo/protobuf's Message interface.
func (e *Envelope) Reset() { *e = Envelope{} }

// String implements gogo/protobuf's Message interface.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{kind:%v seq:%d body:%d bytes}", e.Kind, e.Seq, len(e.Body))
}

// ProtoMessage implements gogo/protobuf's Message interface.
func (*Envelope) ProtoMessage() {}

// Size implements gogo/protobuf's Sizer interface.
func (e *Envelope) Size() int {
	return headerSize + len(e.Body)
}

// Marshal implements gogo/protobuf's Marshaler interface, the fast path
// proto.Marshal takes when a type supplies its own encoding.
func (e *Envelope) Marshal() ([]byte, error) {
	buf := make([]byte, e.Size())
	off := 0
	off += copy(buf[off:], e.Identifier[:])
	buf[off] = byte(e.Kind)
	off++
	off += copy(buf[off:], e.SenderRealPK[:])
	off += copy(buf[off:], e.SenderTempPK[:])
	binary.BigEndian.PutUint64(buf[off:], e.Seq)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Body)))
	off += 4
	copy(buf[off:], e.Body)
	return buf, nil
}

// Unmarshal implements gogo/protobuf's Unmarshaler interface.
func (e *Envelope) Unmarshal(data []byte) error {
	if len(data) < headerSize {
		return ErrMalformed
	}
	off := 0
	copy(e.Identifier[:], data[off:off+identifierSize])
	off += identifierSize
	e.Kind = PacketKind(data[off])
	off++
	copy(e.SenderRealPK[:], data[off:off+pubKeySize])
	off += pubKeySize
	copy(e.SenderTempPK[:], data[off:off+pubKeySize])
	off += pubKeySize
	e.Seq = binary.BigEndian.Uint64(data[off:])
	off += 8
	bodyLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if uint32(len(data)-off) < bodyLen {
		return ErrMalformed
	}
	e.Body = append([]byte(nil), data[off:off+int(bodyLen)]...)
	return nil
}

// PeerDescriptor is the encoding of one peer entry inside a KindPeerResponse
// Envelope's Body.
type PeerDescriptor struct {
	RealPK [32]byte
	TempPK [32]byte
	Nick   []byte
}

// EncodePeerList packs descriptors into a KindPeerResponse body.
func EncodePeerList(peers []PeerDescriptor) []byte {
	size := 2
	for _, p := range peers {
		size += pubKeySize*2 + 1 + len(p.Nick)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, uint16(len(peers)))
	off := 2
	for _, p := range peers {
		off += copy(buf[off:], p.RealPK[:])
		off += copy(buf[off:], p.TempPK[:])
		buf[off] = byte(len(p.Nick))
		off++
		off += copy(buf[off:], p.Nick)
	}
	return buf
}

// DecodePeerList is the inverse of EncodePeerList.
func DecodePeerList(body []byte) ([]PeerDescriptor, error) {
	if len(body) < 2 {
		return nil, ErrMalformed
	}
	count := binary.BigEndian.Uint16(body)
	off := 2
	peers := make([]PeerDescriptor, 0, count)
	for i := 0; i < int(count); i++ {
		if len(body)-off < pubKeySize*2+1 {
			return nil, ErrMalformed
		}
		var d PeerDescriptor
		off += copy(d.RealPK[:], body[off:off+pubKeySize])
		off += copy(d.TempPK[:], body[off:off+pubKeySize])
		nickLen := int(body[off])
		off++
		if len(body)-off < nickLen {
			return nil, ErrMalformed
		}
		d.Nick = append([]byte(nil), body[off:off+nickLen]...)
		off += nickLen
		peers = append(peers, d)
	}
	return peers, nil
}

// FrameLength is the size of the length prefix used when writing an
// Envelope onto a stream transport.
const FrameLength = 4

// MaxFrameLength bounds a single framed packet against a hostile or
// corrupted length field.
const MaxFrameLength = 1 << 20

// PutFrame writes a length-prefixed Envelope into dst, which must already
// be at least FrameLength+len(payload) bytes.
func PutFrame(dst []byte, payload []byte) {
	binary.BigEndian.PutUint32(dst, uint32(len(payload)))
	copy(dst[FrameLength:], payload)
}
