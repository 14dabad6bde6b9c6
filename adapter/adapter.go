// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package adapter translates snapshot and value intents into transport
// packets and validates inbound packets before they reach the local target.
//
// Each side has exactly one target: the only account allowed to send
// through the adapter and the only recipient of decoded messages. Inbound
// packets must come from the registered peer of their source endpoint.
package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/codec"
	"github.com/luxfi/omnivault/metrics"
	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

var (
	ErrUnknownChain      = errors.New("unknown chain")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrNotTargetReceiver = errors.New("not target receiver")
	ErrInsufficientFee   = errors.New("insufficient fee")
	ErrReplayedMessage   = errors.New("replayed message")
	ErrInvalidGUID       = errors.New("invalid guid")
	ErrInvalidValue      = errors.New("invalid value")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Handler consumes decoded messages on behalf of the target.
type Handler interface {
	// HandleSnapshot receives a snapshot reported by a remote chain. route
	// is the address of the adapter that delivered it.
	HandleSnapshot(ctx context.Context, route common.Address, snap types.Snapshot) error

	// HandleValue receives assets bridged from src.
	HandleValue(ctx context.Context, src types.ChainID, amount *big.Int) error
}

// Receipt describes a sent message. Refund is the part of the supplied fee
// that was not needed.
type Receipt struct {
	GUID   common.Hash
	Nonce  uint64
	Fee    *big.Int
	Refund *big.Int
}

type Config struct {
	// Address of this adapter. Packets must be addressed to it.
	Address common.Address
	EID     types.EID
}

type Adapter struct {
	self      common.Address
	eid       types.EID
	transport transport.Transport
	log       log.Logger
	metrics   metrics.Adapter

	mu      sync.Mutex
	peers   map[types.EID]common.Address
	eids    map[types.ChainID]types.EID
	chains  map[types.EID]types.ChainID
	target  common.Address
	handler Handler
	nonces  map[types.EID]uint64
	seen    map[common.Hash]struct{}
}

var _ transport.Receiver = (*Adapter)(nil)

func New(cfg Config, t transport.Transport, logger log.Logger, m metrics.Adapter) *Adapter {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if m == nil {
		m = metrics.Noop().Adapter
	}
	return &Adapter{
		self:      cfg.Address,
		eid:       cfg.EID,
		transport: t,
		log:       logger,
		metrics:   m,
		peers:     make(map[types.EID]common.Address),
		eids:      make(map[types.ChainID]types.EID),
		chains:    make(map[types.EID]types.ChainID),
		nonces:    make(map[types.EID]uint64),
		seen:      make(map[common.Hash]struct{}),
	}
}

func (a *Adapter) Address() common.Address { return a.self }
func (a *Adapter) EID() types.EID          { return a.eid }

// SetPeer sets the remote adapter trusted at eid.
func (a *Adapter) SetPeer(caller access.Caller, eid types.EID, peer common.Address) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if peer == (common.Address{}) {
		delete(a.peers, eid)
		return nil
	}
	a.peers[eid] = peer
	a.log.Info("peer set", log.Stringer("eid", eid), log.Stringer("peer", peer))
	return nil
}

// SetChainEID maps a chain to its transport endpoint.
func (a *Adapter) SetChainEID(caller access.Caller, chain types.ChainID, eid types.EID) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.eids[chain]; ok {
		delete(a.chains, old)
	}
	a.eids[chain] = eid
	a.chains[eid] = chain
	return nil
}

// SetTarget sets the local target account and the handler that consumes
// messages on its behalf.
func (a *Adapter) SetTarget(caller access.Caller, target common.Address, handler Handler) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	if target == (common.Address{}) || handler == nil {
		return ErrInvalidAddress
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = target
	a.handler = handler
	return nil
}

func (a *Adapter) Peer(eid types.EID) (common.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.peers[eid]
	return p, ok
}

func (a *Adapter) Target() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

// QuoteSnapshot returns the fee for sending snap to chain.
func (a *Adapter) QuoteSnapshot(ctx context.Context, chain types.ChainID, snap types.Snapshot, opts ExecutionOptions) (*big.Int, error) {
	payload, err := codec.EncodeSnapshot(snap.Timestamp, snap.ShareSupply, snap.UnderlyingBalance)
	if err != nil {
		return nil, err
	}
	return a.quote(ctx, chain, payload, opts)
}

// QuoteValue returns the fee for bridging amount to chain, including the
// amount itself.
func (a *Adapter) QuoteValue(ctx context.Context, chain types.ChainID, amount *big.Int, opts ExecutionOptions) (*big.Int, error) {
	opts.NativeValue = amount
	return a.quote(ctx, chain, codec.EncodeValue(), opts)
}

func (a *Adapter) quote(ctx context.Context, chain types.ChainID, payload []byte, opts ExecutionOptions) (*big.Int, error) {
	a.mu.Lock()
	eid, _, err := a.route(chain)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	options, err := opts.Encode()
	if err != nil {
		return nil, err
	}
	return a.transport.Quote(ctx, eid, payload, options)
}

// SendSnapshot reports snap to chain. supplied is the native value the
// caller offers for the fee.
func (a *Adapter) SendSnapshot(
	ctx context.Context,
	caller common.Address,
	chain types.ChainID,
	snap types.Snapshot,
	opts ExecutionOptions,
	supplied *big.Int,
) (Receipt, error) {
	payload, err := codec.EncodeSnapshot(snap.Timestamp, snap.ShareSupply, snap.UnderlyingBalance)
	if err != nil {
		return Receipt{}, err
	}
	return a.send(ctx, caller, chain, codec.KindSnapshot, payload, opts, nil, supplied)
}

// SendValue bridges amount to chain. The amount travels as native value
// of the message, so supplied must cover it in addition to the fee.
func (a *Adapter) SendValue(
	ctx context.Context,
	caller common.Address,
	chain types.ChainID,
	amount *big.Int,
	opts ExecutionOptions,
	supplied *big.Int,
) (Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidValue, amount)
	}
	if err := types.CheckAmount(amount); err != nil {
		return Receipt{}, err
	}
	opts.NativeValue = amount
	return a.send(ctx, caller, chain, codec.KindValue, codec.EncodeValue(), opts, amount, supplied)
}

func (a *Adapter) send(
	ctx context.Context,
	caller common.Address,
	chain types.ChainID,
	kind codec.Kind,
	payload []byte,
	opts ExecutionOptions,
	value *big.Int,
	supplied *big.Int,
) (Receipt, error) {
	options, err := opts.Encode()
	if err != nil {
		return Receipt{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.target == (common.Address{}) || caller != a.target {
		return Receipt{}, fmt.Errorf("%w: %s", ErrNotTargetReceiver, caller)
	}
	eid, peer, err := a.route(chain)
	if err != nil {
		return Receipt{}, err
	}
	fee, err := a.transport.Quote(ctx, eid, payload, options)
	if err != nil {
		return Receipt{}, fmt.Errorf("quoting %s: %w", chain, err)
	}
	if supplied == nil || supplied.Cmp(fee) < 0 {
		return Receipt{}, fmt.Errorf("%w: supplied %v, quoted %s", ErrInsufficientFee, supplied, fee)
	}

	nonce := a.nonces[eid] + 1
	pkt := &transport.Packet{
		Nonce:    nonce,
		SrcEID:   a.eid,
		DstEID:   eid,
		Sender:   a.self,
		Receiver: peer,
		Payload:  payload,
		Options:  options,
		Value:    value,
	}
	pkt.GUID = GUID(pkt)
	if err := a.transport.Send(ctx, pkt, fee); err != nil {
		return Receipt{}, fmt.Errorf("sending to %s: %w", chain, err)
	}
	a.nonces[eid] = nonce

	a.metrics.MarkSent(kind.String(), fee)
	a.log.Debug("message sent",
		log.String("kind", kind.String()),
		log.Stringer("chain", chain),
		log.Uint64("nonce", nonce),
		log.Stringer("guid", pkt.GUID),
	)
	return Receipt{
		GUID:   pkt.GUID,
		Nonce:  nonce,
		Fee:    fee,
		Refund: new(big.Int).Sub(supplied, fee),
	}, nil
}

// route must be called with the lock held.
func (a *Adapter) route(chain types.ChainID) (types.EID, common.Address, error) {
	eid, ok := a.eids[chain]
	if !ok {
		return 0, common.Address{}, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	peer, ok := a.peers[eid]
	if !ok {
		return 0, common.Address{}, fmt.Errorf("%w: %s", ErrUnknownPeer, eid)
	}
	return eid, peer, nil
}

// Receive validates an inbound packet and dispatches it to the target. A
// packet the target rejects is forgotten, so a later redelivery is not
// treated as a replay.
func (a *Adapter) Receive(ctx context.Context, pkt *transport.Packet) error {
	chain, handler, err := a.admit(pkt)
	if err != nil {
		a.metrics.MarkRejected(rejectReason(err))
		a.log.Warn("packet rejected",
			log.Stringer("src", pkt.SrcEID),
			log.Stringer("sender", pkt.Sender),
			log.Stringer("guid", pkt.GUID),
			log.Err(err),
		)
		return err
	}

	kind, err := a.dispatch(ctx, handler, chain, pkt)
	if err != nil {
		a.mu.Lock()
		delete(a.seen, pkt.GUID)
		a.mu.Unlock()
		a.metrics.MarkRejected(rejectReason(err))
		return err
	}
	a.metrics.MarkReceived(kind.String())
	return nil
}

func (a *Adapter) admit(pkt *transport.Packet) (types.ChainID, Handler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	chain, ok := a.chains[pkt.SrcEID]
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownChain, pkt.SrcEID)
	}
	if peer, ok := a.peers[pkt.SrcEID]; !ok || peer != pkt.Sender {
		return 0, nil, fmt.Errorf("%w: %s from %s", ErrUnknownPeer, pkt.Sender, pkt.SrcEID)
	}
	if pkt.DstEID != a.eid || pkt.Receiver != a.self || a.handler == nil {
		return 0, nil, fmt.Errorf("%w: %s at %s", ErrNotTargetReceiver, pkt.Receiver, pkt.DstEID)
	}
	if GUID(pkt) != pkt.GUID {
		return 0, nil, fmt.Errorf("%w: %s", ErrInvalidGUID, pkt.GUID)
	}
	if _, ok := a.seen[pkt.GUID]; ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrReplayedMessage, pkt.GUID)
	}
	a.seen[pkt.GUID] = struct{}{}
	return chain, a.handler, nil
}

func (a *Adapter) dispatch(ctx context.Context, h Handler, chain types.ChainID, pkt *transport.Packet) (codec.Kind, error) {
	msg, err := codec.Decode(pkt.Payload)
	if err != nil {
		return 0, err
	}
	switch msg.Kind {
	case codec.KindSnapshot:
		return msg.Kind, h.HandleSnapshot(ctx, a.self, types.Snapshot{
			ChainID:           chain,
			Timestamp:         msg.Timestamp,
			UnderlyingBalance: msg.UnderlyingBalance,
			ShareSupply:       msg.ShareSupply,
		})
	case codec.KindValue:
		if pkt.Value == nil || pkt.Value.Sign() <= 0 {
			return msg.Kind, ErrInvalidValue
		}
		return msg.Kind, h.HandleValue(ctx, chain, new(big.Int).Set(pkt.Value))
	default:
		return msg.Kind, codec.ErrUnknownSelector
	}
}

// GUID derives a packet's identifier from its routing fields.
func GUID(pkt *transport.Packet) common.Hash {
	var buf [8 + 4 + common.AddressLength + 4 + common.AddressLength]byte
	b := buf[:0]
	b = binary.BigEndian.AppendUint64(b, pkt.Nonce)
	b = binary.BigEndian.AppendUint32(b, uint32(pkt.SrcEID))
	b = append(b, pkt.Sender.Bytes()...)
	b = binary.BigEndian.AppendUint32(b, uint32(pkt.DstEID))
	b = append(b, pkt.Receiver.Bytes()...)

	h := blake3.New()
	h.Write(b)
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownChain):
		return "unknown_chain"
	case errors.Is(err, ErrUnknownPeer):
		return "unknown_peer"
	case errors.Is(err, ErrNotTargetReceiver):
		return "not_target_receiver"
	case errors.Is(err, ErrReplayedMessage):
		return "replayed"
	case errors.Is(err, ErrInvalidGUID):
		return "invalid_guid"
	case errors.Is(err, codec.ErrUnknownSelector), errors.Is(err, codec.ErrMalformedPayload), errors.Is(err, ErrInvalidValue):
		return "malformed"
	default:
		return "handler"
	}
}
