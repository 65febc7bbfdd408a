// Package router implements ToM's forwarding decision engine (spec §4.2):
// a pure function from an incoming envelope plus known topology to a
// list of actions for the runtime to carry out. The router performs no
// I/O itself.
package router

import (
	"time"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/envelope"
	"github.com/tom-x-project/tom/identity"
)

const (
	// DedupTTL is how long an envelope id is remembered to suppress a
	// retransmitted duplicate.
	DedupTTL = 10 * time.Minute
	// AckTTL is how long an ack envelope id is remembered to suppress a
	// replayed acknowledgement.
	AckTTL = 5 * time.Minute
	// MaxCacheEntries bounds both caches; the router is designed to run
	// unattended indefinitely on fixed memory.
	MaxCacheEntries = 10000
)

// DropReason enumerates why the router chose not to deliver or forward
// an envelope.
type DropReason string

const (
	DropInvalidSignature DropReason = "invalid_signature"
	DropDuplicate        DropReason = "duplicate"
	DropTTLExpired       DropReason = "ttl_expired"
	DropViaTooDeep       DropReason = "via_too_deep"
	DropNoRoute          DropReason = "no_route"
	DropReplayedAck      DropReason = "replayed_ack"
	DropMalformedPayload DropReason = "malformed_payload"
)

// readReceiptClampWindow bounds how far a ReadReceiptPayload's read_at
// may drift from the router's clock before being clamped.
const readReceiptClampWindow = 7 * 24 * time.Hour

// Action is the set of effects the router can request. The runtime
// switches on the concrete type.
type Action interface{ isAction() }

// Deliver means the envelope is addressed to this node and should be
// handed to the application / subsystem matching its MsgType. Response
// is non-nil only for a deliverable message (not an Ack or
// ReadReceipt): an unsigned delivery-ACK whose Via already holds the
// incoming chain reversed, ready for the caller to sign and route back.
type Deliver struct {
	Envelope *envelope.Envelope
	Response *envelope.Envelope
}

// Forward means the envelope should be sent on to NextHop, with Via/TTL
// already updated on Envelope.
type Forward struct {
	NextHop  identity.NodeId
	Envelope *envelope.Envelope
}

// Drop means the envelope is discarded; Reason is reported to metrics
// and logs, never to the network.
type Drop struct {
	Envelope *envelope.Envelope
	Reason   DropReason
}

func (Deliver) isAction() {}
func (Forward) isAction() {}
func (Drop) isAction()    {}

// NextHopResolver answers "if I must relay this envelope onward, who is
// the next hop?" It is satisfied by relay.Topology in normal operation
// and is a seam so the router stays decoupled from relay selection
// policy.
type NextHopResolver interface {
	SelectRelay(to identity.NodeId, exclude []identity.NodeId) (identity.NodeId, bool)
}

// Router is a single node's routing state: its identity and the two
// anti-replay caches. It is not safe to share a Router between nodes,
// but is safe for concurrent use by one node's own goroutines.
type Router struct {
	localID   identity.NodeId
	dedup     *ttlCache
	ackReplay *ttlCache
	now       func() time.Time
}

// New creates a Router for localID.
func New(localID identity.NodeId) *Router {
	return &Router{
		localID:   localID,
		dedup:     newTTLCache(DedupTTL, MaxCacheEntries),
		ackReplay: newTTLCache(AckTTL, MaxCacheEntries),
		now:       time.Now,
	}
}

// Route decides what to do with an incoming envelope. resolver is kept
// for callers that still need topology-based relay selection elsewhere
// (e.g. when a node originates a message); the decision tree below
// never consults it, since a forwarded envelope's next hop is always
// derivable from its own Via chain and To field.
func (r *Router) Route(e *envelope.Envelope, resolver NextHopResolver) []Action {
	now := r.now()

	if err := e.Verify(); err != nil {
		return []Action{Drop{Envelope: e, Reason: DropInvalidSignature}}
	}

	if len(e.Via) > envelope.MaxViaDepth {
		return []Action{Drop{Envelope: e, Reason: DropViaTooDeep}}
	}

	if e.To == r.localID {
		return r.deliverLocal(e, now)
	}

	if pos, inChain := viaPosition(e.Via, r.localID); inChain {
		nextHop := e.To
		if pos+1 < len(e.Via) {
			nextHop = e.Via[pos+1]
		}
		return r.forward(e, nextHop)
	}

	return r.forward(e, e.To)
}

// forward applies the TTL rule common to steps 3 and 4 of the decision
// tree and emits the Forward action toward nextHop.
func (r *Router) forward(e *envelope.Envelope, nextHop identity.NodeId) []Action {
	if e.TTL == 0 {
		return []Action{Drop{Envelope: e, Reason: DropTTLExpired}}
	}
	e.TTL--
	return []Action{Forward{NextHop: nextHop, Envelope: e}}
}

// viaPosition reports whether id appears in via and, if so, at what
// index.
func viaPosition(via []identity.NodeId, id identity.NodeId) (int, bool) {
	for i, hop := range via {
		if hop == id {
			return i, true
		}
	}
	return 0, false
}

// reverseVia returns a new slice holding via's elements in reverse
// order, so a response can retrace the chain an envelope arrived on.
func reverseVia(via []identity.NodeId) []identity.NodeId {
	if len(via) == 0 {
		return nil
	}
	out := make([]identity.NodeId, len(via))
	for i, hop := range via {
		out[len(via)-1-i] = hop
	}
	return out
}

func (r *Router) deliverLocal(e *envelope.Envelope, now time.Time) []Action {
	switch e.MsgType {
	case envelope.MsgTypeAck:
		var ack envelope.AckPayload
		if err := envelope.DecodePayload(e.Payload, &ack); err != nil {
			return []Action{Drop{Envelope: e, Reason: DropMalformedPayload}}
		}
		key := ackCacheKey(ack.OriginalMessageID, e.From, ack.AckType.String())
		if r.ackReplay.CheckAndMark(key, now) {
			return []Action{Drop{Envelope: e, Reason: DropReplayedAck}}
		}
		return []Action{Deliver{Envelope: e}}

	case envelope.MsgTypeReadReceipt:
		var rr envelope.ReadReceiptPayload
		if err := envelope.DecodePayload(e.Payload, &rr); err != nil {
			return []Action{Drop{Envelope: e, Reason: DropMalformedPayload}}
		}
		rr.ReadAtMs = clampReadAt(rr.ReadAtMs, now)
		if payload, err := envelope.EncodePayload(rr); err == nil {
			e.Payload = payload
		}
		key := ackCacheKey(rr.OriginalMessageID, e.From, "read")
		if r.ackReplay.CheckAndMark(key, now) {
			return []Action{Drop{Envelope: e, Reason: DropReplayedAck}}
		}
		return []Action{Deliver{Envelope: e}}

	default:
		key := e.ID.String() + "|" + e.From.String()
		if r.dedup.CheckAndMark(key, now) {
			return []Action{Drop{Envelope: e, Reason: DropDuplicate}}
		}

		ackPayload, err := envelope.EncodePayload(envelope.AckPayload{
			OriginalMessageID: e.ID,
			AckType:           envelope.AckRecipientReceived,
		})
		if err != nil {
			return []Action{Deliver{Envelope: e}}
		}
		response := envelope.New(r.localID, e.From, envelope.MsgTypeAck, ackPayload, 0, false)
		response.Via = reverseVia(e.Via)
		return []Action{Deliver{Envelope: e, Response: response}}
	}
}

// ackCacheKey builds the composite anti-replay key spec §4.2 requires
// for Ack and ReadReceipt dedup: distinct ack types for the same
// original message must never collide.
func ackCacheKey(originalMessageID uuid.UUID, from identity.NodeId, kind string) string {
	return originalMessageID.String() + "|" + from.String() + "|" + kind
}

// clampReadAt forces a reported read timestamp into [now-7d, now], so a
// malicious or clock-skewed peer cannot report reads arbitrarily far in
// the past or future.
func clampReadAt(readAtMs int64, now time.Time) int64 {
	readAt := time.UnixMilli(readAtMs)
	earliest := now.Add(-readReceiptClampWindow)
	switch {
	case readAt.Before(earliest):
		return earliest.UnixMilli()
	case readAt.After(now):
		return now.UnixMilli()
	default:
		return readAtMs
	}
}

// CleanupCaches evicts expired entries from both caches. Intended to be
// called on RuntimeConfig.CacheCleanupInterval.
func (r *Router) CleanupCaches() {
	now := r.now()
	r.dedup.Cleanup(now)
	r.ackReplay.Cleanup(now)
}
