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
	"github.com/confmesh/groupchat/clock"
	"github.com/confmesh/groupchat/crypto"
	"github.com/confmesh/groupchat/internal/wire"
	"github.com/confmesh/groupchat/pingarray"
	"github.com/confmesh/groupchat/rng"
	"github.com/confmesh/groupchat/transport"
	"github.com/gogo/protobuf/proto"
)

// MessageCallback fires when a deduplicated lossless message is accepted.
// kind is 0 for a plain message, 1 for an action.
type MessageCallback func(groupNumber int, peerID PeerID, kind int, msg []byte)

// InviteCallback fires when a friend sends an invite; data is exactly what
// JoinGroupChat expects to be handed next.
type InviteCallback func(friendNumber int32, kind byte, data []byte)

// TitleCallback fires when a new title is accepted. peerID is -1 on
// initial join.
type TitleCallback func(groupNumber int, peerID PeerID, title []byte)

// NamelistChangeCallback fires on peer-list membership or name changes.
type NamelistChangeCallback func(groupNumber int, peerID PeerID, change NamelistChange)

// LossyPacketHandler is the single registered handler for inbound lossy
// packets (conventionally keyed by GroupAudioPacketID); returning true
// allows the packet to relay onward, false suppresses relay.
type LossyPacketHandler func(groupNumber int, peerID PeerID, data []byte) bool

// Chats is the conference manager: it owns every live Conference, the
// friend links conferences are multiplexed over, and the single pending
// peer-query ping array shared across all conferences.
type Chats struct {
	ourRealPK crypto.PublicKey
	ourSK     crypto.SecretKey
	nick      []byte

	conferences []*Conference // sparse: nil or state==stateVacant marks a hole
	byIdent     map[[GroupIdentifierLength]byte]int

	links map[int32]transport.FriendLink

	pending *pingarray.Array

	clock clock.Source
	rng   rng.Source

	onInvite         InviteCallback
	onMessage        MessageCallback
	onTitle          TitleCallback
	onNamelistChange NamelistChangeCallback
	onLossy          LossyPacketHandler

	isOnline bool
}

// NewChats constructs an empty manager for a node identified by
// (realPK, ourSK), using clk/r as the injectable time and randomness
// collaborators, so tests can run with a deterministic clock and rng.
func NewChats(ourSK crypto.SecretKey, nick []byte, clk clock.Source, r rng.Source) *Chats {
	return &Chats{
		ourRealPK: crypto.DerivePublicKey(ourSK),
		ourSK:     ourSK,
		nick:      append([]byte(nil), nick...),
		byIdent:   make(map[[GroupIdentifierLength]byte]int),
		links:     make(map[int32]transport.FriendLink),
		pending:   mustPingArray(pingArraySize, pingArrayTimeout, clk, r),
		clock:     clk,
		rng:       r,
		isOnline:  true,
	}
}

func mustPingArray(size uint32, timeout uint64, clk clock.Source, r rng.Source) *pingarray.Array {
	a, err := pingarray.New(size, timeout, clk, r)
	if err != nil {
		panic(err) // pingArraySize/pingArrayTimeout are compile-time constants
	}
	return a
}

// RegisterFriendLink wires the byte pipe for friendNumber into this
// manager, hooking its inbound packet callbacks so every conference can
// be multiplexed over it by identifier.
func (g *Chats) RegisterFriendLink(friendNumber int32, link transport.FriendLink) {
	g.links[friendNumber] = link
	link.OnLosslessPacket(func(payload []byte) { g.handleInbound(friendNumber, payload, false) })
	link.OnLossyPacket(func(payload []byte) { g.handleInbound(friendNumber, payload, true) })
}

// AddGroupChat allocates a new conference of the given type. If uid is
// nil, a fresh identifier is generated as kind ∥ new_symmetric_key(32).
func (g *Chats) AddGroupChat(kind byte, uid []byte) (int, error) {
	var identifier [GroupIdentifierLength]byte
	identifier[0] = kind
	if uid != nil {
		if len(uid) != GroupIdentifierLength {
			return -1, ErrInvalidArg
		}
		copy(identifier[:], uid)
	} else {
		key := crypto.NewSymmetricKey()
		copy(identifier[1:], key[:])
	}

	gn := g.allocateSlot()
	c := newConference(gn, kind, identifier, g.ourRealPK)
	c.state = stateLive
	c.JoinMode = false
	g.conferences[gn] = c
	g.byIdent[identifier] = gn
	return gn, nil
}

func (g *Chats) allocateSlot() int {
	for i, c := range g.conferences {
		if c == nil || !c.live() {
			return i
		}
	}
	g.conferences = append(g.conferences, nil)
	return len(g.conferences) - 1
}

// DelGroupChat destroys a live conference, invoking its group-delete
// callback synchronously.
func (g *Chats) DelGroupChat(groupNumber int) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	if c.onDelete != nil {
		c.onDelete()
	}
	delete(g.byIdent, c.Identifier)
	g.conferences[groupNumber] = nil
	return nil
}

// EnterConference moves a conference from Forming back to Live (used
// after LeaveConference(keepLeave=true)).
func (g *Chats) EnterConference(groupNumber int) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	c.state = stateLive
	c.JoinMode = false
	c.KeepLeave = false
	return nil
}

// LeaveConference transitions a conference to Leaving→Vacant, or, if
// keepLeave is true, to Forming with KeepLeave set so periodic auto-join
// retry is suppressed until EnterConference is called again.
func (g *Chats) LeaveConference(groupNumber int, keepLeave bool) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	if keepLeave {
		c.state = stateForming
		c.JoinMode = true
		c.KeepLeave = true
		return nil
	}
	return g.DelGroupChat(groupNumber)
}

// InviteFriend sends an invite packet carrying the conference identifier
// over friendNumber's lossless channel.
func (g *Chats) InviteFriend(friendNumber int32, groupNumber int) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	link, ok := g.links[friendNumber]
	if !ok {
		return ErrSendFailed
	}
	env := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindInvite,
		SenderRealPK: g.ourRealPK,
	}
	c.InviteCalled = true
	return g.sendEnvelope(link, &env, false)
}

// JoinGroupChat processes an invite payload (as delivered via
// InviteCallback), validating expectedType against data[0] and installing
// the conference, then sends a join packet.
func (g *Chats) JoinGroupChat(friendNumber int32, expectedType byte, data []byte) (int, error) {
	if len(data) != GroupIdentifierLength || data[0] != expectedType {
		return -1, ErrInvalidArg
	}
	var identifier [GroupIdentifierLength]byte
	copy(identifier[:], data)

	if gn, exists := g.byIdent[identifier]; exists {
		return gn, nil
	}

	gn := g.allocateSlot()
	c := newConference(gn, expectedType, identifier, g.ourRealPK)
	g.conferences[gn] = c
	g.byIdent[identifier] = gn

	link, ok := g.links[friendNumber]
	if !ok {
		return -1, ErrSendFailed
	}
	ourTemp, _, err := crypto.NewKeyPair()
	if err != nil {
		return -1, err
	}
	env := wire.Envelope{
		Identifier:   identifier,
		Kind:         wire.KindJoin,
		SenderRealPK: g.ourRealPK,
		SenderTempPK: ourTemp,
		Body:         append([]byte(nil), g.nick...),
	}
	if err := g.sendEnvelope(link, &env, false); err != nil {
		return -1, err
	}
	// a link that delivers synchronously may already have brought the ack,
	// making the conference Live; only a still-Forming one needs a retry.
	if c.state == stateForming {
		c.joinPeers = append(c.joinPeers, &JoinPeer{
			FriendConID: friendNumber,
			TempPK:      ourTemp,
			Nick:        append([]byte(nil), g.nick...),
			NextTryTime: g.clock.UnixTime() + joinRetryBaseSeconds,
		})
	}
	return gn, nil
}

// GroupMessageSend assigns the next message_number and floods msg to the
// conference's closest peers as kind 0 (plain message).
func (g *Chats) GroupMessageSend(groupNumber int, msg []byte) error {
	return g.sendLossless(groupNumber, 0, msg)
}

// GroupActionSend is GroupMessageSend for kind 1 (action).
func (g *Chats) GroupActionSend(groupNumber int, action []byte) error {
	return g.sendLossless(groupNumber, 1, action)
}

func (g *Chats) sendLossless(groupNumber, kind int, payload []byte) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	if c.state != stateLive {
		return ErrNotConnected
	}
	c.MessageNumber++
	body := make([]byte, 1+len(payload))
	body[0] = byte(kind)
	copy(body[1:], payload)
	env := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindMessage,
		SenderRealPK: g.ourRealPK,
		Seq:          uint64(c.MessageNumber),
		Body:         body,
	}
	return g.floodToClosest(c, &env, false, -1)
}

// GroupTitleSend sets the conference title and broadcasts it. It returns
// the legacy accessor codes this surface preserves verbatim: 0 on
// success, -2 if title is empty or longer than MaxNameLength.
func (g *Chats) GroupTitleSend(groupNumber int, title []byte) int {
	c, err := g.get(groupNumber)
	if err != nil {
		return -1
	}
	if len(title) == 0 || len(title) > MaxNameLength {
		return -2
	}
	c.Title = append([]byte(nil), title...)
	c.TitleChanged = true
	env := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindTitle,
		SenderRealPK: g.ourRealPK,
		Body:         c.Title,
	}
	if err := g.floodToClosest(c, &env, false, -1); err != nil {
		return -1
	}
	return 0
}

// GroupTitleGet returns the current title.
func (g *Chats) GroupTitleGet(groupNumber int) ([]byte, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), c.Title...), nil
}

// GroupTitleGetSize returns len(title), or -1 if groupNumber is invalid.
func (g *Chats) GroupTitleGetSize(groupNumber int) int {
	c, err := g.get(groupNumber)
	if err != nil {
		return -1
	}
	return len(c.Title)
}

// SendGroupLossyPacket assigns the next lossy_message_number and forwards
// data via the lossy channel to the conference's closest peers.
func (g *Chats) SendGroupLossyPacket(groupNumber int, data []byte) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	if c.state != stateLive {
		return ErrNotConnected
	}
	c.LossyMessageNumber++
	env := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindLossy,
		SenderRealPK: g.ourRealPK,
		Seq:          uint64(c.LossyMessageNumber),
		Body:         data,
	}
	return g.floodToClosest(c, &env, true, -1)
}

// RequestPeerList asks every closest peer of groupNumber for their full
// peer list, correlating the eventual KindPeerResponse against a pending
// ping array entry — the generic pending-request store this engine
// shares with the join/query protocol.
func (g *Chats) RequestPeerList(groupNumber int) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	pingID := g.pending.Add(c.Identifier[:])
	env := wire.Envelope{
		Identifier:   c.Identifier,
		Kind:         wire.KindPeerQuery,
		SenderRealPK: g.ourRealPK,
		Seq:          pingID,
	}
	return g.floodToClosest(c, &env, false, -1)
}

// GroupNames returns every peer's nickname and the per-peer gid, in
// peer-table order, the bulk accessor dropped from the distilled surface
// but implied by "group_names" in the operator list.
func (g *Chats) GroupNames(groupNumber int) ([]PeerID, [][]byte, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]PeerID, 0, len(c.peerOrder))
	names := make([][]byte, 0, len(c.peerOrder))
	for _, id := range c.peerOrder {
		ids = append(ids, id)
		names = append(names, append([]byte(nil), c.peers[id].Nick...))
	}
	return ids, names, nil
}

// PeerNames is GroupNames flattened to plain strings for display.
func (g *Chats) PeerNames(groupNumber int) ([]string, error) {
	_, names, err := g.GroupNames(groupNumber)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out, nil
}

// ChatList returns the group numbers of every live conference.
func (g *Chats) ChatList() []int {
	var out []int
	for i, c := range g.conferences {
		if c != nil && c.live() {
			out = append(out, i)
		}
	}
	return out
}

// BroadcastSelfName sends a name-change packet to the closest peers of
// every live conference.
func (g *Chats) BroadcastSelfName(nick []byte) error {
	g.nick = append([]byte(nil), nick...)
	for _, gn := range g.ChatList() {
		c := g.conferences[gn]
		env := wire.Envelope{
			Identifier:   c.Identifier,
			Kind:         wire.KindNameChange,
			SenderRealPK: g.ourRealPK,
			Body:         g.nick,
		}
		if err := g.floodToClosest(c, &env, false, -1); err != nil {
			return err
		}
	}
	return nil
}

// GroupPeername returns the nickname of peerID in groupNumber.
func (g *Chats) GroupPeername(groupNumber int, peerID PeerID) ([]byte, error) {
	p, err := g.getPeer(groupNumber, peerID)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p.Nick...), nil
}

// GroupPeerPubkey returns peerID's long-term public key.
func (g *Chats) GroupPeerPubkey(groupNumber int, peerID PeerID) (crypto.PublicKey, error) {
	p, err := g.getPeer(groupNumber, peerID)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return p.RealPK, nil
}

// GroupNumberPeers returns the live peer count, including ourselves.
func (g *Chats) GroupNumberPeers(groupNumber int) (int, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return -1, err
	}
	return c.peerCount(), nil
}

// GroupPeerNumberIsOurs reports whether peerID denotes the local node.
// Peer number 0 is reserved for self and never allocated to a remote
// peer, so this is true for 0 from the moment a conference is created.
func (g *Chats) GroupPeerNumberIsOurs(groupNumber int, peerID PeerID) (bool, error) {
	if _, err := g.get(groupNumber); err != nil {
		return false, err
	}
	return peerID == selfPeerID, nil
}

// ConferenceGetID returns the 33-byte identifier of groupNumber.
func (g *Chats) ConferenceGetID(groupNumber int) ([GroupIdentifierLength]byte, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return [GroupIdentifierLength]byte{}, err
	}
	return c.Identifier, nil
}

// ConferenceByUID returns the group number owning identifier, if any.
func (g *Chats) ConferenceByUID(identifier [GroupIdentifierLength]byte) (int, bool) {
	gn, ok := g.byIdent[identifier]
	return gn, ok
}

// GroupGetType returns the conference's type byte (identifier[0]).
func (g *Chats) GroupGetType(groupNumber int) (byte, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return 0, err
	}
	return c.Identifier[0], nil
}

// GroupSetObject attaches a non-owning embedder pointer to a conference.
func (g *Chats) GroupSetObject(groupNumber int, object interface{}) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	c.Object = object
	return nil
}

// GroupObject retrieves the pointer set by GroupSetObject.
func (g *Chats) GroupObject(groupNumber int) (interface{}, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return nil, err
	}
	return c.Object, nil
}

// GroupPeerSetObject attaches a non-owning embedder pointer to a peer.
func (g *Chats) GroupPeerSetObject(groupNumber int, peerID PeerID, object interface{}) error {
	p, err := g.getPeer(groupNumber, peerID)
	if err != nil {
		return err
	}
	p.Object = object
	return nil
}

// GroupPeerObject retrieves the pointer set by GroupPeerSetObject.
func (g *Chats) GroupPeerObject(groupNumber int, peerID PeerID) (interface{}, error) {
	p, err := g.getPeer(groupNumber, peerID)
	if err != nil {
		return nil, err
	}
	return p.Object, nil
}

// OnInvite registers the global invite callback.
func (g *Chats) OnInvite(cb InviteCallback) { g.onInvite = cb }

// OnMessage registers the global deduplicated-message callback.
func (g *Chats) OnMessage(cb MessageCallback) { g.onMessage = cb }

// OnTitle registers the global title-change callback.
func (g *Chats) OnTitle(cb TitleCallback) { g.onTitle = cb }

// OnNamelistChange registers the global namelist-change callback.
func (g *Chats) OnNamelistChange(cb NamelistChangeCallback) { g.onNamelistChange = cb }

// OnLossyPacket registers the single lossy-packet handler, keyed
// conventionally by GroupAudioPacketID — this engine keeps one handler
// field rather than a sparse table (see DESIGN.md).
func (g *Chats) OnLossyPacket(cb LossyPacketHandler) { g.onLossy = cb }

// OnPeerJoin registers a per-conference peer-join callback.
func (g *Chats) OnPeerJoin(groupNumber int, cb func(PeerID)) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	c.onPeerJoin = cb
	return nil
}

// OnPeerLeave registers a per-conference peer-leave callback.
func (g *Chats) OnPeerLeave(groupNumber int, cb func(PeerID)) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	c.onPeerLeave = cb
	return nil
}

// OnGroupDelete registers a per-conference delete callback.
func (g *Chats) OnGroupDelete(groupNumber int, cb func()) error {
	c, err := g.get(groupNumber)
	if err != nil {
		return err
	}
	c.onDelete = cb
	return nil
}

// KillGroupchats releases every conference, invoking group-delete for
// each one still live.
func (g *Chats) KillGroupchats() {
	for gn, c := range g.conferences {
		if c != nil && c.live() && c.onDelete != nil {
			c.onDelete()
		}
		g.conferences[gn] = nil
	}
	g.byIdent = make(map[[GroupIdentifierLength]byte]int)
}

func (g *Chats) get(groupNumber int) (*Conference, error) {
	if groupNumber < 0 || groupNumber >= len(g.conferences) {
		return nil, ErrInvalidGroup
	}
	c := g.conferences[groupNumber]
	if c == nil || !c.live() {
		return nil, ErrInvalidGroup
	}
	return c, nil
}

func (g *Chats) getPeer(groupNumber int, peerID PeerID) (*Peer, error) {
	c, err := g.get(groupNumber)
	if err != nil {
		return nil, err
	}
	p, ok := c.peers[peerID]
	if !ok {
		return nil, ErrInvalidPeer
	}
	return p, nil
}

func (g *Chats) sendEnvelope(link transport.FriendLink, env *wire.Envelope, lossy bool) error {
	body, err := proto.Marshal(env)
	if err != nil {
		return err
	}
	if lossy {
		return link.SendLossy(body)
	}
	return link.SendLossless(body)
}

// floodToClosest sends env to every currently elected closest peer of c
// whose friend link is not excludeFriend (the ingress link, when relaying
// an inbound packet).
func (g *Chats) floodToClosest(c *Conference, env *wire.Envelope, lossy bool, excludeFriend int32) error {
	var lastErr error
	sent := false
	for _, id := range c.closestPeerIDs() {
		p := c.peers[id]
		if p.FriendConID == excludeFriend {
			continue
		}
		link, ok := g.links[p.FriendConID]
		if !ok {
			continue
		}
		if err := g.sendEnvelope(link, env, lossy); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}
	if !sent && lastErr != nil {
		return lastErr
	}
	return nil
}
