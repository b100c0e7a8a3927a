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
	"encoding/binary"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/xtaci/gaio"

	"github.com/confmesh/groupchat/crypto"
	"github.com/confmesh/groupchat/internal/wire"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 60 * time.Second
)

type readState byte

const (
	stateReadSize readState = iota
	stateReadBody
)

type authState byte

const (
	authNotStarted authState = iota
	authLocalInitSent
	authLocalChallengeReceived
	authPeerChallengeSent
	authEstablished
	authFailed
)

// TCPTransport multiplexes reads for every TCPLink it owns through a
// single gaio.Watcher, an async-io reactor serving every peer connection
// off one goroutine instead of one reader goroutine per link.
type TCPTransport struct {
	watcher  *gaio.Watcher
	listener *net.TCPListener

	identity crypto.SecretKey
	realPub  crypto.PublicKey

	onAccept func(*TCPLink)

	die     chan struct{}
	dieOnce sync.Once
}

// NewTCPTransport creates a transport bound to listener (may be nil for an
// outbound-only transport) authenticating as identity.
func NewTCPTransport(listener *net.TCPListener, identity crypto.SecretKey) (*TCPTransport, error) {
	watcher, err := gaio.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &TCPTransport{
		watcher:  watcher,
		listener: listener,
		identity: identity,
		realPub:  crypto.DerivePublicKey(identity),
		die:      make(chan struct{}),
	}
	go t.readLoop()
	if listener != nil {
		go t.acceptor()
	}
	return t, nil
}

// OnAccept registers the callback invoked for each inbound connection once
// its transport-level link object exists (before authentication completes).
func (t *TCPTransport) OnAccept(f func(*TCPLink)) { t.onAccept = f }

// Close shuts the transport down.
func (t *TCPTransport) Close() {
	t.dieOnce.Do(func() {
		close(t.die)
		if t.listener != nil {
			t.listener.Close()
		}
		t.watcher.Close()
	})
}

// Dial opens an outbound connection to addr and begins authentication.
// The handshake proves our identity to the listener; the listener's own
// identity is not verified. peerRealPK is recorded as the link's peer key
// once the challenge is answered, with no check that the listener holds
// the matching secret key.
func (t *TCPTransport) Dial(addr string, peerRealPK crypto.PublicKey) (*TCPLink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	link := t.newLink(conn)
	link.expectedPeerPK = &peerRealPK
	if err := link.initiateAuthentication(); err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

func (t *TCPTransport) newLink(conn net.Conn) *TCPLink {
	link := &TCPLink{
		conn:       conn,
		transport:  t,
		chOutbound: make(chan struct{}, 1),
		die:        make(chan struct{}),
		readState:  stateReadSize,
	}
	go link.sendLoop()
	return link
}

func (t *TCPTransport) acceptor() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		link := t.newLink(conn)
		if t.onAccept != nil {
			t.onAccept(link)
		}
		if err := t.watcher.ReadFull(link, conn, make([]byte, wire.FrameLength), time.Now().Add(defaultReadTimeout)); err != nil {
			link.Close()
		}
	}
}

func (t *TCPTransport) readLoop() {
	for {
		results, err := t.watcher.WaitIO()
		if err != nil {
			return
		}
		for _, res := range results {
			link, ok := res.Context.(*TCPLink)
			if !ok || res.Operation != gaio.OpRead {
				continue
			}
			if res.Error != nil {
				link.Close()
				continue
			}
			if res.Size <= 0 {
				continue
			}
			link.onReadComplete(t.watcher, res.Conn, res.Buffer[:res.Size])
		}
	}
}

// TCPLink is a FriendLink backed by a TCP connection, authenticated with a
// Curve25519 challenge-response handshake and, once established, with
// every frame sealed under the pair's precomputed shared key.
type TCPLink struct {
	conn      net.Conn
	transport *TCPTransport

	mu             sync.Mutex
	readState      readState
	auth           authState
	expectedPeerPK *crypto.PublicKey
	peerRealPK     crypto.PublicKey
	ephemeral      crypto.SecretKey
	sharedKey      crypto.SharedKey
	challengeSent  []byte
	sendNonce      crypto.Nonce
	recvNonce      crypto.Nonce

	online     bool
	outbound   [][]byte
	chOutbound chan struct{}

	onLossless func([]byte)
	onLossy    func([]byte)
	onStatus   func(bool)

	die     chan struct{}
	dieOnce sync.Once
}

// Close tears the link down, marking it offline and notifying the status
// handler if it was online.
func (l *TCPLink) Close() {
	l.dieOnce.Do(func() {
		l.conn.Close()
		close(l.die)

		l.mu.Lock()
		wasOnline := l.online
		l.online = false
		handler := l.onStatus
		l.mu.Unlock()
		if wasOnline && handler != nil {
			handler(false)
		}
	})
}

// Online implements FriendLink.
func (l *TCPLink) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// OnLosslessPacket implements FriendLink.
func (l *TCPLink) OnLosslessPacket(f func([]byte)) {
	l.mu.Lock()
	l.onLossless = f
	l.mu.Unlock()
}

// OnLossyPacket implements FriendLink. A TCPLink never invokes this
// handler: every inbound data frame, including one sent with SendLossy,
// goes to the OnLosslessPacket handler.
func (l *TCPLink) OnLossyPacket(f func([]byte)) {
	l.mu.Lock()
	l.onLossy = f
	l.mu.Unlock()
}

// OnStatusChange implements FriendLink.
func (l *TCPLink) OnStatusChange(f func(bool)) {
	l.mu.Lock()
	l.onStatus = f
	l.mu.Unlock()
}

// SendLossless implements FriendLink.
func (l *TCPLink) SendLossless(payload []byte) error { return l.sendSealed(payload) }

// SendLossy implements FriendLink. It sends over the same reliable stream
// and frame type as SendLossless, so the peer cannot tell the two apart.
func (l *TCPLink) SendLossy(payload []byte) error { return l.sendSealed(payload) }

func (l *TCPLink) sendSealed(payload []byte) error {
	l.mu.Lock()
	if l.auth != authEstablished {
		l.mu.Unlock()
		return ErrLinkOffline
	}
	nonce := l.sendNonce
	crypto.IncrementNonce(&l.sendNonce)
	shared := l.sharedKey
	l.mu.Unlock()

	cipherText, err := crypto.EncryptSymmetric(shared, nonce, payload)
	if err != nil {
		return err
	}
	frame := wire.DataFrame{Nonce: nonce, CipherText: cipherText}
	body, err := proto.Marshal(&frame)
	if err != nil {
		return err
	}
	l.enqueue(wire.PutCommandFrame(wire.CommandData, body))
	return nil
}

func (l *TCPLink) enqueue(frame []byte) {
	l.mu.Lock()
	l.outbound = append(l.outbound, frame)
	l.mu.Unlock()
	select {
	case l.chOutbound <- struct{}{}:
	default:
	}
}

// sendLoop drains the link's outbound queue on a dedicated goroutine,
// writing frames to the connection directly rather than through the
// shared async watcher (writes, unlike reads, block for a bounded and
// predictable time, so one goroutine per link is cheap).
func (l *TCPLink) sendLoop() {
	defer l.Close()
	for {
		select {
		case <-l.die:
			return
		case <-l.chOutbound:
			l.mu.Lock()
			pending := l.outbound
			l.outbound = nil
			l.mu.Unlock()

			for _, frame := range pending {
				l.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
				if _, err := l.conn.Write(frame); err != nil {
					log.Println("tcplink write:", err)
					return
				}
			}
		}
	}
}

// initiateAuthentication sends our KeyAuthInit and arms the read chain.
func (l *TCPLink) initiateAuthentication() error {
	l.mu.Lock()
	if l.auth != authNotStarted {
		l.mu.Unlock()
		return ErrAlreadyAuthenticating
	}
	l.auth = authLocalInitSent
	l.mu.Unlock()

	init := wire.KeyAuthInit{RealPublicKey: l.transport.realPub}
	body, err := proto.Marshal(&init)
	if err != nil {
		return err
	}
	l.enqueue(wire.PutCommandFrame(wire.CommandKeyAuthInit, body))
	return l.transport.watcher.ReadFull(l, l.conn, make([]byte, wire.FrameLength), time.Now().Add(defaultReadTimeout))
}

// onReadComplete is invoked from the transport's single readLoop goroutine
// for every completed async read belonging to this link.
func (l *TCPLink) onReadComplete(w *gaio.Watcher, conn net.Conn, buf []byte) {
	l.mu.Lock()
	state := l.readState
	l.mu.Unlock()

	switch state {
	case stateReadSize:
		length := binary.BigEndian.Uint32(buf)
		if length == 0 || length > wire.MaxFrameLength {
			l.Close()
			return
		}
		l.mu.Lock()
		l.readState = stateReadBody
		l.mu.Unlock()
		if err := w.ReadFull(l, conn, make([]byte, length), time.Now().Add(defaultReadTimeout)); err != nil {
			l.Close()
			return
		}
	case stateReadBody:
		l.handleFrame(buf)
		l.mu.Lock()
		l.readState = stateReadSize
		l.mu.Unlock()
		if err := w.ReadFull(l, conn, make([]byte, wire.FrameLength), time.Now().Add(defaultReadTimeout)); err != nil {
			l.Close()
			return
		}
	}
}

func (l *TCPLink) handleFrame(buf []byte) {
	if len(buf) < 1 {
		return
	}
	cmd := wire.HandshakeCommand(buf[0])
	body := buf[1:]

	switch cmd {
	case wire.CommandKeyAuthInit:
		var m wire.KeyAuthInit
		if err := proto.Unmarshal(body, &m); err != nil {
			l.Close()
			return
		}
		l.handleKeyAuthInit(&m)
	case wire.CommandKeyAuthChallenge:
		var m wire.KeyAuthChallenge
		if err := proto.Unmarshal(body, &m); err != nil {
			l.Close()
			return
		}
		l.handleKeyAuthChallenge(&m)
	case wire.CommandKeyAuthChallengeReply:
		var m wire.KeyAuthChallengeReply
		if err := proto.Unmarshal(body, &m); err != nil {
			l.Close()
			return
		}
		l.handleKeyAuthChallengeReply(&m)
	case wire.CommandData:
		var f wire.DataFrame
		if err := proto.Unmarshal(body, &f); err != nil {
			l.Close()
			return
		}
		l.handleData(&f)
	}
}

// handleKeyAuthInit runs on the responder: the peer has announced its real
// public key, so we generate an ephemeral keypair, precompute the shared
// key against the peer's announced identity, and issue a challenge.
func (l *TCPLink) handleKeyAuthInit(m *wire.KeyAuthInit) {
	l.mu.Lock()
	if l.auth != authNotStarted {
		l.mu.Unlock()
		return
	}
	l.peerRealPK = m.RealPublicKey
	ephPub, ephSec, err := crypto.NewKeyPair()
	if err != nil {
		l.mu.Unlock()
		l.Close()
		return
	}
	l.ephemeral = ephSec
	shared := crypto.PrecomputeShared(l.peerRealPK, ephSec)

	challengeText := make([]byte, 32)
	crypto.RandomBytes(challengeText)
	nonce := crypto.RandomNonce()
	cipherText, err := crypto.EncryptSymmetric(shared, nonce, challengeText)
	if err != nil {
		l.mu.Unlock()
		l.Close()
		return
	}

	l.challengeSent = challengeText
	l.sharedKey = shared
	l.auth = authPeerChallengeSent
	l.mu.Unlock()

	challenge := wire.KeyAuthChallenge{EphemeralPublicKey: ephPub, Nonce: nonce, CipherText: cipherText}
	body, err := proto.Marshal(&challenge)
	if err != nil {
		l.Close()
		return
	}
	l.enqueue(wire.PutCommandFrame(wire.CommandKeyAuthChallenge, body))
}

// handleKeyAuthChallenge runs on the initiator: derive the shared key from
// our identity secret and the peer's ephemeral public key, decrypt the
// challenge, and echo the plaintext back to prove key ownership.
func (l *TCPLink) handleKeyAuthChallenge(m *wire.KeyAuthChallenge) {
	l.mu.Lock()
	if l.auth != authLocalInitSent {
		l.mu.Unlock()
		return
	}
	shared := crypto.PrecomputeShared(m.EphemeralPublicKey, l.transport.identity)
	plainText, err := crypto.DecryptSymmetric(shared, m.Nonce, m.CipherText)
	if err != nil {
		l.auth = authFailed
		l.mu.Unlock()
		l.Close()
		return
	}
	l.sharedKey = shared
	l.auth = authLocalChallengeReceived
	l.mu.Unlock()

	reply := wire.KeyAuthChallengeReply{PlainText: plainText}
	body, err := proto.Marshal(&reply)
	if err != nil {
		l.Close()
		return
	}
	l.enqueue(wire.PutCommandFrame(wire.CommandKeyAuthChallengeReply, body))

	l.mu.Lock()
	l.auth = authEstablished
	l.online = true
	if l.expectedPeerPK != nil {
		l.peerRealPK = *l.expectedPeerPK
	}
	handler := l.onStatus
	l.mu.Unlock()
	if handler != nil {
		handler(true)
	}
}

// handleKeyAuthChallengeReply runs on the responder: confirm the peer
// recovered our challenge plaintext, proving it holds the secret key
// matching its announced real public key.
func (l *TCPLink) handleKeyAuthChallengeReply(m *wire.KeyAuthChallengeReply) {
	l.mu.Lock()
	if l.auth != authPeerChallengeSent {
		l.mu.Unlock()
		return
	}
	equal := crypto.PublicKeyCmp(padTo32(l.challengeSent), padTo32(m.PlainText)) == 0
	if !equal {
		l.auth = authFailed
		l.mu.Unlock()
		l.Close()
		return
	}
	l.auth = authEstablished
	l.online = true
	handler := l.onStatus
	l.mu.Unlock()
	if handler != nil {
		handler(true)
	}
}

func (l *TCPLink) handleData(f *wire.DataFrame) {
	l.mu.Lock()
	if l.auth != authEstablished {
		l.mu.Unlock()
		return
	}
	shared := l.sharedKey
	l.mu.Unlock()

	plain, err := crypto.DecryptSymmetric(shared, f.Nonce, f.CipherText)
	if err != nil {
		return
	}

	l.mu.Lock()
	handler := l.onLossless
	l.mu.Unlock()
	if handler != nil {
		handler(plain)
	}
}

func padTo32(b []byte) crypto.PublicKey {
	var out crypto.PublicKey
	copy(out[:], b)
	return out
}
