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

import "github.com/confmesh/groupchat/internal/wire"

// Tick is the periodic driver (do_groupchats equivalent): it expires
// silent peers, pings closest peers, re-elects the mesh, drives join
// retries, and broadcasts our name when NeedSendName is set. It does not
// send anything for TitleChanged or a peer's NeedSendPeers: titles go out
// from GroupTitleSend and are relayed on receipt, and peer lists only
// answer a KindPeerQuery or a join. A failure isolated to one conference
// never prevents the others from ticking.
func (g *Chats) Tick() {
	now := g.clock.UnixTime()
	for _, c := range g.conferences {
		if c == nil || !c.live() {
			continue
		}
		g.tickConference(c, now)
	}
}

func (g *Chats) tickConference(c *Conference, now uint64) {
	if now-c.LastCloseCheckTime >= closeCheckSeconds {
		g.expireInactivePeers(c, now)
		c.electClosestPeers()
		c.LastCloseCheckTime = now
	}

	if c.state == stateLive && now-c.LastSentPing >= pingIntervalSeconds {
		g.pingClosestPeers(c)
		c.LastSentPing = now
	}

	if c.state == stateForming && !c.KeepLeave && !c.DisableAutoJoin {
		g.driveJoinRetries(c, now)
	}

	if c.NeedSendName {
		_ = g.BroadcastSelfName(g.nick)
		c.NeedSendName = false
	}

	c.DirtyList = false
}

func (g *Chats) expireInactivePeers(c *Conference, now uint64) {
	var stale []PeerID
	for _, id := range c.peerOrder {
		p := c.peers[id]
		if p.KeepConnection > 0 {
			p.KeepConnection--
			continue
		}
		if p.LastRecv != 0 && now-p.LastRecv > inactivitySeconds {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		c.removePeer(id)
	}
}

func (g *Chats) pingClosestPeers(c *Conference) {
	env := wire.Envelope{Identifier: c.Identifier, Kind: wire.KindPing, SenderRealPK: g.ourRealPK}
	_ = g.floodToClosest(c, &env, false, -1)
}

// driveJoinRetries resends the join packet to every outstanding joinPeers
// entry whose next_try_time has elapsed, backing off exponentially on
// repeated failure. An entry is dropped once the friend link that would
// carry the retry is gone.
func (g *Chats) driveJoinRetries(c *Conference, now uint64) {
	live := c.joinPeers[:0]
	for _, jp := range c.joinPeers {
		if jp.Unsubscribed || jp.Online {
			continue
		}
		if now < jp.NextTryTime {
			live = append(live, jp)
			continue
		}
		link, ok := g.links[jp.FriendConID]
		if !ok {
			continue
		}
		env := wire.Envelope{
			Identifier:   c.Identifier,
			Kind:         wire.KindJoin,
			SenderRealPK: g.ourRealPK,
			SenderTempPK: jp.TempPK,
			Body:         jp.Nick,
		}
		_ = g.sendEnvelope(link, &env, false)

		jp.Fails++
		backoff := uint64(joinRetryBaseSeconds) << uint(min(jp.Fails, 8))
		if backoff > joinRetryMaxSeconds {
			backoff = joinRetryMaxSeconds
		}
		jp.NextTryTime = now + backoff
		live = append(live, jp)
	}
	c.joinPeers = live
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
