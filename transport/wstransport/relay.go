// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wstransport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/types"
)

// Relay routes packets between connected endpoints. Packets for an endpoint
// that is not connected, or whose queue is full, are dropped.
type Relay struct {
	log      log.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	peers  map[types.EID]*peer
	closed bool
	wg     sync.WaitGroup
}

type peer struct {
	eid  types.EID
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.quit)
		p.conn.Close()
	})
}

func NewRelay(logger log.Logger) *Relay {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Relay{
		log: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		peers: make(map[types.EID]*peer),
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != frameHello {
		r.log.Warn("endpoint did not say hello", log.Err(err))
		conn.Close()
		return
	}

	p := &peer{
		eid:  hello.EID,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		quit: make(chan struct{}),
	}
	if !r.register(p) {
		conn.Close()
		return
	}
	defer r.wg.Done()
	defer r.unregister(p)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.writePump(p)
	}()
	r.readPump(p)
}

// Close disconnects every endpoint and waits for their pumps to exit.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	r.wg.Wait()
}

// Connected reports whether an endpoint is registered for eid.
func (r *Relay) Connected(eid types.EID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[eid]
	return ok
}

func (r *Relay) register(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if old, ok := r.peers[p.eid]; ok {
		old.close()
	}
	r.peers[p.eid] = p
	r.wg.Add(1)
	r.log.Info("endpoint connected", log.Stringer("eid", p.eid))
	return true
}

func (r *Relay) unregister(p *peer) {
	p.close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peers[p.eid] == p {
		delete(r.peers, p.eid)
		r.log.Info("endpoint disconnected", log.Stringer("eid", p.eid))
	}
}

func (r *Relay) readPump(p *peer) {
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warn("endpoint read failed", log.Stringer("eid", p.eid), log.Err(err))
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Type != framePacket || f.Packet == nil {
			r.log.Warn("malformed frame", log.Stringer("eid", p.eid), log.Err(err))
			continue
		}
		r.route(f.Packet.DstEID, msg)
	}
}

func (r *Relay) route(dst types.EID, msg []byte) {
	r.mu.Lock()
	p, ok := r.peers[dst]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("dropping packet for disconnected endpoint", log.Stringer("eid", dst))
		return
	}
	select {
	case p.send <- msg:
	case <-p.quit:
	default:
		r.log.Warn("dropping packet for slow endpoint", log.Stringer("eid", dst))
	}
}

func (r *Relay) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.quit:
			return
		}
	}
}
