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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confmesh/groupchat/clock"
	"github.com/confmesh/groupchat/crypto"
	"github.com/confmesh/groupchat/rng"
	"github.com/confmesh/groupchat/transport"
)

// node bundles a Chats manager with the identity it was built from, for
// tests that need to assert things about "our" side of an exchange.
type node struct {
	chats *Chats
	sk    crypto.SecretKey
	pk    crypto.PublicKey
}

func newNode(t *testing.T, nick string) *node {
	t.Helper()
	pk, sk, err := crypto.NewKeyPair()
	require.NoError(t, err)
	clk := clock.NewMock(1000)
	return &node{
		chats: NewChats(sk, []byte(nick), clk, rng.System{}),
		sk:    sk,
		pk:    pk,
	}
}

// link connects a and b over an in-memory transport.LoopbackPair, assigning
// friendNumber on each side so both Chats managers can route through it.
func link(a, b *node, friendNumber int32) {
	pair := transport.NewLoopbackPair()
	a.chats.RegisterFriendLink(friendNumber, pair.A)
	b.chats.RegisterFriendLink(friendNumber, pair.B)
}

func TestAddGroupChatSelfEnumerates(t *testing.T) {
	a := newNode(t, "alice")

	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	n, err := a.chats.GroupNumberPeers(gn)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // just ourselves

	ours, err := a.chats.GroupPeerNumberIsOurs(gn, 0)
	require.NoError(t, err)
	assert.True(t, ours)

	typ, err := a.chats.GroupGetType(gn)
	require.NoError(t, err)
	assert.Equal(t, byte(GroupChatTypeText), typ)
}

func TestGroupTitleSetAndGet(t *testing.T) {
	a := newNode(t, "alice")
	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, a.chats.GroupTitleSend(gn, []byte("general")))
	title, err := a.chats.GroupTitleGet(gn)
	require.NoError(t, err)
	assert.Equal(t, []byte("general"), title)
	assert.Equal(t, len("general"), a.chats.GroupTitleGetSize(gn))

	assert.Equal(t, -2, a.chats.GroupTitleSend(gn, nil))

	oversize := make([]byte, MaxNameLength+1)
	assert.Equal(t, -2, a.chats.GroupTitleSend(gn, oversize))

	assert.Equal(t, -1, a.chats.GroupTitleSend(999, []byte("x")))
}

func TestInviteJoinRoundTrip(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	link(a, b, 1)

	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	var invited []byte
	b.chats.OnInvite(func(friendNumber int32, kind byte, data []byte) {
		invited = append([]byte(nil), data...)
	})

	require.NoError(t, a.chats.InviteFriend(1, gn))
	require.NotNil(t, invited)

	bGN, err := b.chats.JoinGroupChat(1, GroupChatTypeText, invited)
	require.NoError(t, err)

	// the join ack lets both sides learn each other within this single
	// exchange, without a separate peer-query round trip.
	aPeers, err := a.chats.GroupNumberPeers(gn)
	require.NoError(t, err)
	assert.Equal(t, 2, aPeers)

	bPeers, err := b.chats.GroupNumberPeers(bGN)
	require.NoError(t, err)
	assert.Equal(t, 2, bPeers)
}

func TestGroupMessageDeliversAndDedups(t *testing.T) {
	a := newNode(t, "alice")
	b := newNode(t, "bob")
	link(a, b, 1)

	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	var invited []byte
	b.chats.OnInvite(func(friendNumber int32, kind byte, data []byte) {
		invited = append([]byte(nil), data...)
	})
	require.NoError(t, a.chats.InviteFriend(1, gn))

	bGN, err := b.chats.JoinGroupChat(1, GroupChatTypeText, invited)
	require.NoError(t, err)

	var received [][]byte
	b.chats.OnMessage(func(groupNumber int, peerID PeerID, kind int, msg []byte) {
		received = append(received, append([]byte(nil), msg...))
	})

	require.NoError(t, a.chats.GroupMessageSend(gn, []byte("hello")))
	require.Len(t, received, 1)
	assert.Equal(t, []byte("hello"), received[0])

	_ = bGN

	// a second copy of the same (kind, message_number), as a second mesh
	// path would deliver it, must be rejected by the per-kind dedup check.
	p := b.chats.conferences[bGN].findPeerByRealPK(a.chats.ourRealPK)
	require.NotNil(t, p)
	assert.False(t, p.acceptMessageNumber(0, 1))
}

func TestClosestPeerElectionPicksFourNearest(t *testing.T) {
	a := newNode(t, "alice")
	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)
	c := a.chats.conferences[gn]

	for i := int32(1); i <= 6; i++ {
		pk, _, err := crypto.NewKeyPair()
		require.NoError(t, err)
		p := c.addPeer(pk, pk, i)
		p.Connected = true
	}

	added, removed := c.electClosestPeers()
	assert.Len(t, added, DesiredCloseConnections)
	assert.Empty(t, removed)
	assert.Len(t, c.closestPeerIDs(), DesiredCloseConnections)

	// no peer left out of the mesh is XOR-nearer to us than one elected
	elected := make(map[PeerID]bool)
	for _, id := range c.closestPeerIDs() {
		elected[id] = true
	}
	for id, p := range c.peers {
		if elected[id] {
			continue
		}
		for eid := range elected {
			assert.False(t, lessDistance(xorDistance(c.RealPK, p.RealPK), xorDistance(c.RealPK, c.peers[eid].RealPK)))
		}
	}
}

func TestLeaveConferenceKeepLeaveReturnsToForming(t *testing.T) {
	a := newNode(t, "alice")
	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	require.NoError(t, a.chats.LeaveConference(gn, true))
	c := a.chats.conferences[gn]
	assert.Equal(t, stateForming, c.state)
	assert.True(t, c.KeepLeave)

	require.NoError(t, a.chats.EnterConference(gn))
	assert.Equal(t, stateLive, c.state)
	assert.False(t, c.KeepLeave)
}

func TestDriveJoinRetriesResendsJoinPacket(t *testing.T) {
	_, sk, err := crypto.NewKeyPair()
	require.NoError(t, err)
	clk := clock.NewMock(1000)
	chats := NewChats(sk, []byte("alice"), clk, rng.System{})

	pair := transport.NewLoopbackPair()
	chats.RegisterFriendLink(1, pair.A)
	var sends int
	pair.B.OnLosslessPacket(func(payload []byte) { sends++ })

	gn, err := chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)
	c := chats.conferences[gn]

	// simulate an outstanding join whose ack never arrived: Forming, with
	// a joinPeers entry already due for retry.
	c.state = stateForming
	ourTemp, _, err := crypto.NewKeyPair()
	require.NoError(t, err)
	c.joinPeers = append(c.joinPeers, &JoinPeer{
		FriendConID: 1,
		TempPK:      ourTemp,
		Nick:        []byte("alice"),
		NextTryTime: clk.UnixTime(),
	})

	chats.Tick()
	assert.Equal(t, 1, sends)
	require.Len(t, c.joinPeers, 1)
	assert.Equal(t, 1, c.joinPeers[0].Fails)
	firstRetry := c.joinPeers[0].NextTryTime
	assert.True(t, firstRetry > clk.UnixTime())

	// before next_try_time elapses, no retry is sent
	chats.Tick()
	assert.Equal(t, 1, sends)

	clk.Advance(firstRetry - clk.UnixTime() + closeCheckSeconds)
	chats.Tick()
	assert.Equal(t, 2, sends)
	assert.Equal(t, 2, c.joinPeers[0].Fails)
}

func TestLeaveConferenceWithoutKeepLeaveDeletesChat(t *testing.T) {
	a := newNode(t, "alice")
	gn, err := a.chats.AddGroupChat(GroupChatTypeText, nil)
	require.NoError(t, err)

	require.NoError(t, a.chats.LeaveConference(gn, false))
	_, err = a.chats.GroupNumberPeers(gn)
	assert.Equal(t, ErrInvalidGroup, err)
}
