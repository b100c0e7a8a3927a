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
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/confmesh/groupchat/crypto"
)

func TestTCPLinkHandshakeAndDataRoundTrip(t *testing.T) {
	listenerAddr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	ln, err := net.ListenTCP("tcp", listenerAddr)
	assert.Nil(t, err)

	serverPub, serverSec, err := crypto.NewKeyPair()
	assert.Nil(t, err)
	clientPub, clientSec, err := crypto.NewKeyPair()
	assert.Nil(t, err)

	server, err := NewTCPTransport(ln, serverSec)
	assert.Nil(t, err)
	defer server.Close()

	var serverLink *TCPLink
	serverOnline := make(chan struct{}, 1)
	server.OnAccept(func(l *TCPLink) {
		serverLink = l
		l.OnStatusChange(func(online bool) {
			if online {
				select {
				case serverOnline <- struct{}{}:
				default:
				}
			}
		})
	})

	client, err := NewTCPTransport(nil, clientSec)
	assert.Nil(t, err)
	defer client.Close()

	clientLink, err := client.Dial(ln.Addr().String(), serverPub)
	assert.Nil(t, err)

	select {
	case <-serverOnline:
	case <-time.After(2 * time.Second):
		t.Fatal("server link never authenticated")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !clientLink.Online() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, clientLink.Online())

	received := make(chan []byte, 1)
	serverLink.OnLosslessPacket(func(p []byte) { received <- p })

	assert.Nil(t, clientLink.SendLossless([]byte("hello conference")))

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello conference"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received data frame")
	}

	runtime.KeepAlive(clientPub)
}
