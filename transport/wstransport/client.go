// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

var _ transport.Transport = (*Client)(nil)

// Client is a transport endpoint connected to a Relay. Inbound packets are
// handed to the receiver one at a time, in the order the relay forwards
// them.
type Client struct {
	eid      types.EID
	fees     transport.FeeSchedule
	receiver transport.Receiver
	log      log.Logger

	conn   *websocket.Conn
	send   chan []byte
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Dial connects to the relay at url and registers as eid.
func Dial(
	ctx context.Context,
	url string,
	eid types.EID,
	fees transport.FeeSchedule,
	receiver transport.Receiver,
	logger log.Logger,
) (*Client, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame{Type: frameHello, EID: eid}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering %s: %w", eid, err)
	}
	conn.SetReadLimit(maxMessageSize)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		eid:      eid,
		fees:     fees,
		receiver: receiver,
		log:      logger,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		quit:     make(chan struct{}),
		ctx:      runCtx,
		cancel:   cancel,
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readPump()
	}()
	go func() {
		defer c.wg.Done()
		c.writePump()
	}()
	return c, nil
}

func (c *Client) EID() types.EID { return c.eid }

func (c *Client) Quote(_ context.Context, _ types.EID, payload, options []byte) (*big.Int, error) {
	return c.fees.Fee(payload, options)
}

// Send queues pkt for the relay. Delivery is not confirmed.
func (c *Client) Send(ctx context.Context, pkt *transport.Packet, fee *big.Int) error {
	quote, err := c.fees.Fee(pkt.Payload, pkt.Options)
	if err != nil {
		return err
	}
	if fee == nil || fee.Cmp(quote) < 0 {
		return fmt.Errorf("%w: paid %v, quoted %s", transport.ErrFeeTooLow, fee, quote)
	}
	msg, err := json.Marshal(frame{Type: framePacket, Packet: pkt})
	if err != nil {
		return err
	}
	select {
	case <-c.quit:
		return transport.ErrClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.quit:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a close frame, disconnects and waits for the pumps to exit.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.cancel()
		close(c.quit)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.quit:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn("relay read failed", log.Stringer("eid", c.eid), log.Err(err))
				}
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Type != framePacket || f.Packet == nil {
			c.log.Warn("malformed frame from relay", log.Err(err))
			continue
		}
		if err := c.receiver.Receive(c.ctx, f.Packet); err != nil {
			c.log.Warn("packet rejected",
				log.Stringer("eid", c.eid),
				log.Stringer("guid", f.Packet.GUID),
				log.Err(err),
			)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}
