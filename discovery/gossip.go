package discovery

import "github.com/tom-x-project/tom/identity"

// PeerAnnouncePayload is gossiped between neighbors to introduce a
// newly discovered or newly-online peer (spec §4.5 gossip). It carries
// just enough for the recipient to add a relay.PeerInfo entry and start
// heartbeat tracking.
type PeerAnnouncePayload struct {
	NodeId   identity.NodeId `msgpack:"node_id"`
	Username string          `msgpack:"username"`
	IsRelay  bool            `msgpack:"is_relay"`
}

// HeartbeatPayload is the periodic liveness ping exchanged between
// peers; receiving one is what feeds HeartbeatTracker.RecordHeartbeat.
type HeartbeatPayload struct {
	NodeId identity.NodeId `msgpack:"node_id"`
	SentAtMs int64         `msgpack:"sent_at"`
}
