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

package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/confmesh/groupchat/clock"
	"github.com/confmesh/groupchat/conference"
	"github.com/confmesh/groupchat/crypto"
	"github.com/confmesh/groupchat/rng"
	"github.com/confmesh/groupchat/transport"
)

// Roster is the shared identity file every node in a demo mesh is started
// from: one Curve25519 keypair per participant, indexed by position.
type Roster struct {
	Identities []RosterEntry `json:"identities"`
}

// RosterEntry is one participant's hex-encoded keypair.
type RosterEntry struct {
	PublicKey string `json:"public_key"`
	SecretKey string `json:"secret_key"`
}

// PeerEntry names a friend to dial: an address and the real public key
// pinned for it in advance, the way a friend is added by public key
// before ever connecting.
type PeerEntry struct {
	Addr      string `json:"addr"`
	PublicKey string `json:"public_key"`
}

func main() {
	app := &cli.App{
		Name:                 "confnode",
		Usage:                "run a peer-to-peer conference engine node",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			genKeysCommand,
			runCommand,
		},
		Action: func(c *cli.Context) error {
			cli.ShowAppHelp(c)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var genKeysCommand = &cli.Command{
	Name:  "genkeys",
	Usage: "generate a shared roster of Curve25519 identities",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Value: 5, Usage: "number of participants to generate"},
		&cli.StringFlag{Name: "roster", Value: "./roster.json", Usage: "output roster file"},
	},
	Action: func(c *cli.Context) error {
		count := c.Int("count")
		roster := &Roster{}
		for i := 0; i < count; i++ {
			pk, sk, err := crypto.NewKeyPair()
			if err != nil {
				return err
			}
			roster.Identities = append(roster.Identities, RosterEntry{
				PublicKey: hex.EncodeToString(pk[:]),
				SecretKey: hex.EncodeToString(sk[:]),
			})
		}

		file, err := os.Create(c.String("roster"))
		if err != nil {
			return err
		}
		defer file.Close()

		enc := json.NewEncoder(file)
		enc.SetIndent("", "\t")
		if err := enc.Encode(roster); err != nil {
			return err
		}

		log.Println("generated", count, "identities into", c.String("roster"))
		return nil
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start a node and found one conference",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Value: ":4680", Usage: "listening address"},
		&cli.IntFlag{Name: "id", Value: 0, Usage: "index into the roster's identity to run as"},
		&cli.StringFlag{Name: "roster", Value: "./roster.json", Usage: "shared roster file"},
		&cli.StringFlag{Name: "peers", Value: "./peers.json", Usage: "list of peer addresses to dial"},
		&cli.StringFlag{Name: "nick", Value: "anon", Usage: "this node's conference nickname"},
		&cli.BoolFlag{Name: "debug", Usage: "dump engine state on every tick"},
	},
	Action: runNode,
}

func runNode(c *cli.Context) error {
	roster, err := loadRoster(c.String("roster"))
	if err != nil {
		return err
	}
	id := c.Int("id")
	if id < 0 || id >= len(roster.Identities) {
		return errors.New(fmt.Sprint("no such identity in roster: ", id))
	}
	skBytes, err := hex.DecodeString(roster.Identities[id].SecretKey)
	if err != nil {
		return err
	}
	var sk crypto.SecretKey
	copy(sk[:], skBytes)

	peers, err := loadPeers(c.String("peers"))
	if err != nil {
		return err
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", c.String("listen"))
	if err != nil {
		return err
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err
	}
	log.Println("listening on", tcpAddr)

	tr, err := transport.NewTCPTransport(listener, sk)
	if err != nil {
		return err
	}

	chats := conference.NewChats(sk, []byte(c.String("nick")), clock.System{}, rng.System{})

	var nextFriend int32 = -1
	tr.OnAccept(func(link *transport.TCPLink) {
		friendNumber := atomic.AddInt32(&nextFriend, 1)
		chats.RegisterFriendLink(friendNumber, link)
		log.Println("accepted inbound connection as friend", friendNumber)
	})

	for _, peer := range peers {
		pkBytes, err := hex.DecodeString(peer.PublicKey)
		if err != nil {
			log.Println("peer", peer.Addr, "has invalid public key:", err)
			continue
		}
		var peerPK crypto.PublicKey
		copy(peerPK[:], pkBytes)

		link, err := tr.Dial(peer.Addr, peerPK)
		if err != nil {
			log.Println("dial", peer.Addr, "failed:", err)
			continue
		}
		friendNumber := atomic.AddInt32(&nextFriend, 1)
		chats.RegisterFriendLink(friendNumber, link)
		log.Println("dialed", peer.Addr, "as friend", friendNumber)
	}

	gn, err := chats.AddGroupChat(conference.GroupChatTypeText, nil)
	if err != nil {
		return err
	}

	var sentBytes, recvBytes uint64
	chats.OnMessage(func(groupNumber int, peerID conference.PeerID, kind int, msg []byte) {
		atomic.AddUint64(&recvBytes, uint64(len(msg)))
		fmt.Printf("[peer %d] %s\n", peerID, msg)
	})
	chats.OnNamelistChange(func(groupNumber int, peerID conference.PeerID, change conference.NamelistChange) {
		log.Println("namelist change in group", groupNumber, "peer", peerID, "change", change)
	})

	go readStdinMessages(chats, gn, &sentBytes)
	runTickLoop(chats, gn, c.Bool("debug"), &sentBytes, &recvBytes)
	return nil
}

func readStdinMessages(chats *conference.Chats, gn int, sentBytes *uint64) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := chats.GroupMessageSend(gn, []byte(line)); err != nil {
			log.Println("send failed:", err)
			continue
		}
		atomic.AddUint64(sentBytes, uint64(len(line)))
	}
}

func runTickLoop(chats *conference.Chats, gn int, debug bool, sentBytes, recvBytes *uint64) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		chats.Tick()
		printPeerTable(chats, gn)
		log.Printf("sent %s, received %s", bytefmt.ByteSize(atomic.LoadUint64(sentBytes)), bytefmt.ByteSize(atomic.LoadUint64(recvBytes)))
		if debug {
			spew.Dump(chats)
		}
	}
}

func printPeerTable(chats *conference.Chats, gn int) {
	ids, names, err := chats.GroupNames(gn)
	if err != nil {
		log.Println("group names:", err)
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"peer id", "nickname"})
	for i, id := range ids {
		table.Append([]string{fmt.Sprint(id), string(names[i])})
	}
	table.Render()
}

func loadRoster(path string) (*Roster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	roster := new(Roster)
	if err := json.NewDecoder(file).Decode(roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func loadPeers(path string) ([]PeerEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	var peers []PeerEntry
	if err := json.NewDecoder(file).Decode(&peers); err != nil {
		return nil, err
	}
	return peers, nil
}
