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

package conference

import "github.com/confmesh/groupchat/crypto"

// PeerID is a conference-scoped peer identifier. The source this engine
// models packs peer ids into signed 24-bit bitfields; here that's a
// validated range on a plain int32 rather than a language-specific
// bitfield layout.
type PeerID int32

const (
	peerIDMin PeerID = -(1 << 23)
	peerIDMax PeerID = (1 << 23) - 1

	// selfPeerID is the peer number that always denotes the local node,
	// never allocated to a remote peer: group_peernumber_is_ours(gn, 0)
	// is true the instant a conference is created, before any remote
	// peer has joined.
	selfPeerID PeerID = 0
)

// Valid reports whether id fits the signed 24-bit range a gid must occupy.
func (id PeerID) Valid() bool {
	return id >= peerIDMin && id <= peerIDMax
}

// lossyWindow is a 256-bit sliding-window dedup bitmap for one peer's
// lossy packets, keyed by lossy_message_number.
type lossyWindow struct {
	bits   [4]uint64 // 256 bits total
	bottom uint16    // sequence number at bit 0
	top    uint16    // highest sequence number ever accepted
	seen   bool
}

func (w *lossyWindow) bitIndex(seq uint16) (uint16, bool) {
	offset := seq - w.bottom
	if offset >= MaxLossyCount {
		return 0, false
	}
	return offset, true
}

// accept reports whether seq is new (not previously seen within the
// window) and, if so, records it and slides the window forward so seq
// becomes the new top.
func (w *lossyWindow) accept(seq uint16) bool {
	if !w.seen {
		w.seen = true
		w.bottom = seq - MaxLossyCount + 1
		w.top = seq
		w.set(seq)
		return true
	}

	// seq behind the window: either a dup or too old to tell; reject.
	if int16(seq-w.bottom) < 0 {
		return false
	}

	if int16(seq-w.top) > 0 {
		advance := seq - w.top
		if advance >= MaxLossyCount {
			w.bits = [4]uint64{}
		} else {
			w.shift(advance)
		}
		w.bottom += advance
		w.top = seq
	}

	idx, ok := w.bitIndex(seq)
	if !ok {
		return false
	}
	word, bit := idx/64, idx%64
	if w.bits[word]&(1<<bit) != 0 {
		return false
	}
	w.bits[word] |= 1 << bit
	return true
}

func (w *lossyWindow) set(seq uint16) {
	idx, ok := w.bitIndex(seq)
	if !ok {
		return
	}
	word, bit := idx/64, idx%64
	w.bits[word] |= 1 << bit
}

func (w *lossyWindow) shift(n uint16) {
	// bit i tracks bottom+i, so advancing bottom moves every bit to a
	// lower index; bit 0 of each word carries into bit 63 of the word below.
	for i := uint16(0); i < n; i++ {
		for word := 0; word < 4; word++ {
			w.bits[word] >>= 1
			if word < 3 {
				w.bits[word] |= w.bits[word+1] << 63
			}
		}
	}
}

// Peer is one entry in a conference's peer table.
type Peer struct {
	GID PeerID

	RealPK crypto.PublicKey
	TempPK crypto.PublicKey

	Nick []byte

	LastRecv          uint64
	lastMessageNumber [lastMessageNumberSlots]uint32
	haveMessageNumber [lastMessageNumberSlots]bool

	FriendConID    int32 // -1 if none
	GroupNumber    int
	KeepConnection int

	NickChanged   bool
	TitleChanged  bool
	AutoJoin      bool
	NeedSendPeers bool
	Connected     bool

	lossy *lossyWindow

	// Object is a non-owning embedder pointer; the engine never frees it.
	Object interface{}
}

// acceptMessageNumber reports whether num is new for the given packet kind
// (strictly greater than the last accepted number for that kind, modulo
// wraparound) and, if so, records it.
func (p *Peer) acceptMessageNumber(kind int, num uint32) bool {
	if kind < 0 || kind >= lastMessageNumberSlots {
		return false
	}
	if !p.haveMessageNumber[kind] {
		p.haveMessageNumber[kind] = true
		p.lastMessageNumber[kind] = num
		return true
	}
	if int32(num-p.lastMessageNumber[kind]) <= 0 {
		return false
	}
	p.lastMessageNumber[kind] = num
	return true
}

// acceptLossy reports whether seq is new within the peer's lossy
// deduplication window, creating the window on first use.
func (p *Peer) acceptLossy(seq uint16) bool {
	if p.lossy == nil {
		p.lossy = &lossyWindow{}
	}
	return p.lossy.accept(seq)
}

// JoinPeer is a friend the conference has an outstanding join request
// against: driveJoinRetries resends the join packet through FriendConID
// until Online (the peer list ack flips the conference Live) or
// Unsubscribed.
type JoinPeer struct {
	RealPK       crypto.PublicKey
	FriendConID  int32
	TempPK       crypto.PublicKey
	Nick         []byte
	NextTryTime  uint64
	Fails        int
	Online       bool
	Unsubscribed bool
}
