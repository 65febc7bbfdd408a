package backup

import (
	"time"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/discovery"
	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
)

// Action is the set of effects Coordinator can request.
type Action interface{ isAction() }

// Replicate asks the runtime to send env to a chosen backup relay so
// it can hold it on behalf of recipient.
type Replicate struct {
	BackupRelay identity.NodeId
	Recipient   identity.NodeId
	MessageID   uuid.UUID
	Envelope    []byte
}

// Redeliver asks the runtime to resend every held entry for a
// recipient that has just come back online.
type Redeliver struct {
	Recipient identity.NodeId
	Entries   []Entry
}

func (Replicate) isAction() {}
func (Redeliver) isAction() {}

// Coordinator decides when a message needs backing up (the recipient
// is not currently online) and when held backups should be replayed
// (the recipient has just become reachable again).
type Coordinator struct {
	store *Store
}

// NewCoordinator creates a Coordinator backed by a fresh Store.
func NewCoordinator() *Coordinator {
	return &Coordinator{store: NewStore()}
}

// OnSendFailed is called when a direct send to recipient could not be
// routed (relay.SelectRelay found no online path and the recipient
// itself is offline). It chooses a backup relay from topo's online
// relays and requests replication; if no relay is available the
// message is simply dropped — there is nowhere to hold it.
func (c *Coordinator) OnSendFailed(recipient identity.NodeId, messageID uuid.UUID, env []byte, topo *relay.Topology) []Action {
	relays := topo.OnlineRelays()
	if len(relays) == 0 {
		return nil
	}
	chosen := relays[0].NodeId
	return []Action{Replicate{BackupRelay: chosen, Recipient: recipient, MessageID: messageID, Envelope: env}}
}

// HandleReplicationPayload is called on the chosen backup relay when it
// actually receives a Replicate request; it commits the message to its
// local store.
func (c *Coordinator) HandleReplicationPayload(recipient identity.NodeId, messageID uuid.UUID, env []byte, now time.Time) {
	c.store.Put(recipient, messageID, env, now)
}

// OnPeerLivenessChanged is called whenever discovery reports a liveness
// change. When a previously Stale/Departed peer becomes Alive, any
// backups held for it are pulled for redelivery.
func (c *Coordinator) OnPeerLivenessChanged(change discovery.LivenessChange) []Action {
	if change.To != discovery.Alive || change.From == discovery.Alive {
		return nil
	}
	entries := c.store.Take(change.NodeId)
	if len(entries) == 0 {
		return nil
	}
	return []Action{Redeliver{Recipient: change.NodeId, Entries: entries}}
}

// Cleanup expires old backup entries; call on
// RuntimeConfig.BackupTickInterval.
func (c *Coordinator) Cleanup(now time.Time) []Entry {
	return c.store.Cleanup(now)
}

// Store exposes the underlying store for metrics (size) and tests.
func (c *Coordinator) Store() *Store {
	return c.store
}
