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

import (
	"math/bits"

	"github.com/confmesh/groupchat/crypto"
)

// conferenceState tracks the Vacant → Forming → Live → Leaving → Vacant
// lifecycle of one conference.
type conferenceState int

const (
	stateVacant conferenceState = iota
	stateForming
	stateLive
	stateLeaving
)

// Conference is one group chat: its peer table, the closest-peer mesh,
// and the scheduling state the owning Chats manager drives from Tick.
type Conference struct {
	GroupNumber int

	Identifier [GroupIdentifierLength]byte
	RealPK     crypto.PublicKey

	Title []byte

	peers     map[PeerID]*Peer
	peerOrder []PeerID // stable iteration / display order
	nextGID   PeerID

	joinPeers []*JoinPeer

	MessageNumber      uint32
	LossyMessageNumber uint16

	closestPeers      [DesiredCloseConnections]PeerID
	closestPeersEntry uint8 // bitmap of occupied closestPeers slots

	state conferenceState

	LastSentPing       uint64
	NextJoinCheckTime  uint64
	LastCloseCheckTime uint64

	JoinMode        bool
	FakeJoin        bool
	AutoJoin        bool
	NeedSendName    bool
	DirtyList       bool
	TitleChanged    bool
	InviteCalled    bool
	KeepLeave       bool
	DisableAutoJoin bool
	NickChanged     bool

	onPeerJoin  func(peerID PeerID)
	onPeerLeave func(peerID PeerID)
	onDelete    func()

	// Object is a non-owning embedder pointer.
	Object interface{}
}

func newConference(groupNumber int, kind byte, identifier [GroupIdentifierLength]byte, ourRealPK crypto.PublicKey) *Conference {
	return &Conference{
		GroupNumber: groupNumber,
		Identifier:  identifier,
		RealPK:      ourRealPK,
		peers:       make(map[PeerID]*Peer),
		state:       stateForming,
		JoinMode:    true,
		nextGID:     selfPeerID + 1,
	}
}

func (c *Conference) live() bool { return c.state != stateVacant }

// addPeer allocates a fresh gid and inserts peer, never reusing a gid
// still live in this conference.
func (c *Conference) addPeer(realPK, tempPK crypto.PublicKey, friendConID int32) *Peer {
	gid := c.allocateGID()
	p := &Peer{
		GID:         gid,
		RealPK:      realPK,
		TempPK:      tempPK,
		FriendConID: friendConID,
		GroupNumber: c.GroupNumber,
	}
	c.peers[gid] = p
	c.peerOrder = append(c.peerOrder, gid)
	c.DirtyList = true
	if c.onPeerJoin != nil {
		c.onPeerJoin(gid)
	}
	return p
}

func (c *Conference) allocateGID() PeerID {
	for {
		id := c.nextGID
		c.nextGID++
		if !c.nextGID.Valid() {
			c.nextGID = selfPeerID + 1
		}
		if id != selfPeerID && id.Valid() {
			if _, exists := c.peers[id]; !exists {
				return id
			}
		}
	}
}

func (c *Conference) removePeer(id PeerID) {
	if _, ok := c.peers[id]; !ok {
		return
	}
	delete(c.peers, id)
	for i, existing := range c.peerOrder {
		if existing == id {
			c.peerOrder = append(c.peerOrder[:i], c.peerOrder[i+1:]...)
			break
		}
	}
	c.DirtyList = true
	for i, cp := range c.closestPeers {
		if c.closestPeersEntry&(1<<uint(i)) != 0 && cp == id {
			c.closestPeersEntry &^= 1 << uint(i)
		}
	}
	if c.onPeerLeave != nil {
		c.onPeerLeave(id)
	}
}

func (c *Conference) peerCount() int { return len(c.peers) + 1 } // +1: ourselves

// closestPeerIDs returns the currently-elected mesh neighbor ids, in
// occupied-slot order.
func (c *Conference) closestPeerIDs() []PeerID {
	out := make([]PeerID, 0, DesiredCloseConnections)
	for i, id := range c.closestPeers {
		if c.closestPeersEntry&(1<<uint(i)) != 0 {
			out = append(out, id)
		}
	}
	return out
}

// xorDistance computes the XOR distance between two 32-byte public keys
// as an unsigned big-endian magnitude suitable for ordering.
func xorDistance(a, b crypto.PublicKey) [32]byte {
	var d [32]byte
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func lessDistance(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// electClosestPeers recomputes the closest-peer mesh: the
// DesiredCloseConnections connected peers whose real_pk is XOR-nearest to
// ourRealPK. It returns the ids newly selected and the ids newly dropped
// so the caller can open/close friend connections accordingly.
func (c *Conference) electClosestPeers() (added, removed []PeerID) {
	type candidate struct {
		id   PeerID
		dist [32]byte
	}
	candidates := make([]candidate, 0, len(c.peers))
	for id, p := range c.peers {
		if !p.Connected && p.KeepConnection <= 0 {
			continue
		}
		candidates = append(candidates, candidate{id: id, dist: xorDistance(c.RealPK, p.RealPK)})
	}
	// simple insertion sort: candidate counts are tiny (peer tables are
	// small per conference), so an O(n^2) sort keeps this readable.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && lessDistance(candidates[j].dist, candidates[j-1].dist); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	var newest [DesiredCloseConnections]PeerID
	var newEntry uint8
	for i := 0; i < len(candidates) && i < DesiredCloseConnections; i++ {
		newest[i] = candidates[i].id
		newEntry |= 1 << uint(i)
	}

	oldSet := make(map[PeerID]bool)
	for _, id := range c.closestPeerIDs() {
		oldSet[id] = true
	}
	newSet := make(map[PeerID]bool)
	for i := 0; i < bits.OnesCount8(newEntry); i++ {
		newSet[newest[i]] = true
	}

	for id := range newSet {
		if !oldSet[id] {
			added = append(added, id)
		}
	}
	for id := range oldSet {
		if !newSet[id] && c.peers[id] != nil && c.peers[id].KeepConnection <= 0 {
			removed = append(removed, id)
		}
	}

	c.closestPeers = newest
	c.closestPeersEntry = newEntry
	return added, removed
}
