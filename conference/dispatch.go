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
	"bytes"
	"log"

	"github.com/confmesh/groupchat/crypto"
	"github.com/confmesh/groupchat/internal/wire"
	"github.com/gogo/protobuf/proto"
)

func (c *Conference) findPeerByRealPK(pk crypto.PublicKey) *Peer {
	for _, id := range c.peerOrder {
		if p := c.peers[id]; p != nil && p.RealPK == pk {
			return p
		}
	}
	return nil
}

func descriptorOf(pk crypto.PublicKey, temp crypto.PublicKey, nick []byte) wire.PeerDescriptor {
	return wire.PeerDescriptor{RealPK: pk, TempPK: temp, Nick: nick}
}

// handleInbound decodes payload as an Envelope and dispatches it. It never
// panics on malformed input: an Envelope that fails to decode, or whose
// identifier names no live conference and isn't an invite, is dropped.
func (g *Chats) handleInbound(friendNumber int32, payload []byte, lossy bool) {
	var env wire.Envelope
	if err := proto.Unmarshal(payload, &env); err != nil {
		log.Println("conference: malformed envelope:", err)
		return
	}

	gn, ok := g.byIdent[env.Identifier]
	if !ok {
		if env.Kind == wire.KindInvite {
			if g.onInvite != nil {
				g.onInvite(friendNumber, env.Identifier[0], env.Identifier[:])
			}
			return
		}
		return // unknown conference: drop
	}

	c := g.conferences[gn]
	if c == nil || !c.live() {
		return
	}

	switch env.Kind {
	case wire.KindJoin:
		g.handleJoin(c, friendNumber, &env)
	case wire.KindPeerQuery:
		g.handlePeerQuery(c, friendNumber, &env)
	case wire.KindPeerResponse:
		g.handlePeerResponse(c, friendNumber, &env)
	case wire.KindMessage:
		g.handleMessage(c, friendNumber, &env)
	case wire.KindLossy:
		g.handleLossy(c, friendNumber, &env)
	case wire.KindTitle:
		g.handleTitle(c, friendNumber, &env)
	case wire.KindNameChange:
		g.handleNameChange(c, friendNumber, &env)
	case wire.KindPing, wire.KindPingReply:
		g.handlePing(c, friendNumber, &env)
	}
}

func (g *Chats) handleJoin(c *Conference, friendNumber int32, env *wire.Envelope) {
	if p := c.findPeerByRealPK(env.SenderRealPK); p != nil {
		p.LastRecv = g.clock.UnixTime()
		return
	}
	p := c.addPeer(env.SenderRealPK, env.SenderTempPK, friendNumber)
	p.Nick = append([]byte(nil), env.Body...)
	p.Connected = true
	p.LastRecv = g.clock.UnixTime()

	if c.state == stateForming {
		c.state = stateLive
		c.JoinMode = false
		c.joinPeers = nil
	}
	g.electClosestPeersFor(c)

	if g.onNamelistChange != nil {
		g.onNamelistChange(c.GroupNumber, p.GID, ChatChangeOccurred)
	}

	// ack so the joiner learns our own descriptor without a full query
	// round trip, matching "within one tick both sides see 2 peers".
	if link, ok := g.links[friendNumber]; ok {
		reply := wire.Envelope{
			Identifier:   c.Identifier,
			Kind:         wire.KindPeerResponse,
			SenderRealPK: g.ourRealPK,
			Body:         wire.EncodePeerList([]wire.PeerDescriptor{descriptorOf(g.ourRealPK, g.ourRealPK, g.nick)}),
		}
		_ = g.sendEnvelope(link, &reply, false)
	}
}

func (g *Chats) handlePeerQuery(c *Conference, friendNumber int32, req *wire.Envelope) {
	link, ok := g.links[friendNumber]
	if !ok {
		return
	}
	descs := make([]wire.PeerDescriptor, 0, len(c.peerOrder)+1)
	descs = append(descs, descriptorOf(g.ourRealPK, g.ourRealPK, g.nick))
	for _, id := range c.peerOrder {
		p := c.peers[id]
		descs = append(descs, descriptorOf(p.RealPK, p.TempPK, p.Nick))
	}
	reply := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindPeerResponse,
		SenderRealPK: g.ourRealPK,
		Seq:          req.Seq, // echo the requester's ping_id so it can Check it
		Body:         wire.EncodePeerList(descs),
	}
	_ = g.sendEnvelope(link, &reply, false)
}

func (g *Chats) handlePeerResponse(c *Conference, friendNumber int32, env *wire.Envelope) {
	if env.Seq != 0 {
		g.pending.Check(env.Seq) // best-effort: clears the pending entry if it matches
	}
	if c.state == stateForming {
		c.state = stateLive
		c.JoinMode = false
		c.joinPeers = nil
	}
	descs, err := wire.DecodePeerList(env.Body)
	if err != nil {
		return
	}
	for _, d := range descs {
		if d.RealPK == g.ourRealPK {
			continue
		}
		if c.findPeerByRealPK(d.RealPK) != nil {
			continue
		}
		p := c.addPeer(d.RealPK, d.TempPK, friendNumber)
		p.Nick = append([]byte(nil), d.Nick...)
		p.Connected = true
		p.LastRecv = g.clock.UnixTime()
	}
	g.electClosestPeersFor(c)
}

func (g *Chats) handleMessage(c *Conference, friendNumber int32, env *wire.Envelope) {
	p := c.findPeerByRealPK(env.SenderRealPK)
	if p == nil {
		return
	}
	p.LastRecv = g.clock.UnixTime()
	if len(env.Body) == 0 {
		return
	}
	kind := int(env.Body[0])
	msg := env.Body[1:]
	if !p.acceptMessageNumber(kind, uint32(env.Seq)) {
		return // already-seen message_number: dropped, not relayed again
	}
	if g.onMessage != nil {
		g.onMessage(c.GroupNumber, p.GID, kind, msg)
	}
	_ = g.floodToClosest(c, env, false, friendNumber)
}

func (g *Chats) handleLossy(c *Conference, friendNumber int32, env *wire.Envelope) {
	p := c.findPeerByRealPK(env.SenderRealPK)
	if p == nil {
		return
	}
	if !p.acceptLossy(uint16(env.Seq)) {
		return
	}
	relay := true
	if g.onLossy != nil {
		relay = g.onLossy(c.GroupNumber, p.GID, env.Body)
	}
	if relay {
		_ = g.floodToClosest(c, env, true, friendNumber)
	}
}

func (g *Chats) handleTitle(c *Conference, friendNumber int32, env *wire.Envelope) {
	p := c.findPeerByRealPK(env.SenderRealPK)
	peerID := PeerID(-1)
	if p != nil {
		peerID = p.GID
		p.LastRecv = g.clock.UnixTime()
	}
	if bytes.Equal(c.Title, env.Body) {
		return
	}
	c.Title = append([]byte(nil), env.Body...)
	c.TitleChanged = true
	if g.onTitle != nil {
		g.onTitle(c.GroupNumber, peerID, c.Title)
	}
	_ = g.floodToClosest(c, env, false, friendNumber)
}

func (g *Chats) handleNameChange(c *Conference, friendNumber int32, env *wire.Envelope) {
	p := c.findPeerByRealPK(env.SenderRealPK)
	if p == nil {
		return
	}
	p.Nick = append([]byte(nil), env.Body...)
	p.NickChanged = true
	p.LastRecv = g.clock.UnixTime()
	if g.onNamelistChange != nil {
		g.onNamelistChange(c.GroupNumber, p.GID, ChatChangePeerName)
	}
	_ = g.floodToClosest(c, env, false, friendNumber)
}

func (g *Chats) handlePing(c *Conference, friendNumber int32, env *wire.Envelope) {
	p := c.findPeerByRealPK(env.SenderRealPK)
	if p == nil {
		return
	}
	p.LastRecv = g.clock.UnixTime()
	if env.Kind == wire.KindPing {
		if link, ok := g.links[friendNumber]; ok {
			reply := wire.Envelope{Identifier: c.Identifier, Kind: wire.KindPingReply, SenderRealPK: g.ourRealPK}
			_ = g.sendEnvelope(link, &reply, false)
		}
	}
}

// electClosestPeersFor reconciles the mesh and registers newly-added
// friend links' inbound handlers are already in place (RegisterFriendLink
// is the caller's responsibility); this only updates bookkeeping.
func (g *Chats) electClosestPeersFor(c *Conference) {
	c.electClosestPeers()
}
