// Package backup implements store-and-forward message backup (spec
// §4.8): when a recipient is offline, a relay holds an encrypted copy
// of the message and replays it once the recipient is seen again.
// Grounded on original_source's backup/{types,store,coordinator}.rs.
package backup

import (
	"time"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/identity"
)

// MaxEntries bounds the number of messages a single relay will hold in
// backup at once.
const MaxEntries = 10000

// DefaultTTL is how long a backed-up message is held before it expires
// undelivered.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one message held in backup on behalf of an offline
// recipient.
type Entry struct {
	MessageID   uuid.UUID
	RecipientID identity.NodeId
	Envelope    []byte // the full marshaled, already-encrypted Envelope
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Store is a capacity- and TTL-bounded holding area for backed-up
// messages, keyed by recipient so delivery-on-reconnect can fetch
// everything for one peer at once.
type Store struct {
	byRecipient map[identity.NodeId]map[uuid.UUID]Entry
	size        int
}

// NewStore creates an empty backup store.
func NewStore() *Store {
	return &Store{byRecipient: make(map[identity.NodeId]map[uuid.UUID]Entry)}
}

// Put stores env on behalf of recipient, expiring at now+DefaultTTL. If
// the store is at capacity, the single oldest entry across all
// recipients is evicted to make room.
func (s *Store) Put(recipient identity.NodeId, messageID uuid.UUID, env []byte, now time.Time) {
	if s.size >= MaxEntries {
		s.evictOldest()
	}
	bucket, ok := s.byRecipient[recipient]
	if !ok {
		bucket = make(map[uuid.UUID]Entry)
		s.byRecipient[recipient] = bucket
	}
	if _, exists := bucket[messageID]; !exists {
		s.size++
	}
	bucket[messageID] = Entry{
		MessageID:   messageID,
		RecipientID: recipient,
		Envelope:    env,
		StoredAt:    now,
		ExpiresAt:   now.Add(DefaultTTL),
	}
}

// Take removes and returns every entry held for recipient, for replay
// once that recipient is seen online again.
func (s *Store) Take(recipient identity.NodeId) []Entry {
	bucket, ok := s.byRecipient[recipient]
	if !ok || len(bucket) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e)
	}
	delete(s.byRecipient, recipient)
	s.size -= len(out)
	return out
}

// Remove drops a single entry by recipient and message id, e.g. once a
// read receipt confirms direct delivery made the backup copy moot.
func (s *Store) Remove(recipient identity.NodeId, messageID uuid.UUID) {
	bucket, ok := s.byRecipient[recipient]
	if !ok {
		return
	}
	if _, exists := bucket[messageID]; exists {
		delete(bucket, messageID)
		s.size--
		if len(bucket) == 0 {
			delete(s.byRecipient, recipient)
		}
	}
}

// Cleanup evicts every entry that has expired as of now, returning the
// expired entries so the caller can emit BackupExpired events.
func (s *Store) Cleanup(now time.Time) []Entry {
	var expired []Entry
	for recipient, bucket := range s.byRecipient {
		for id, e := range bucket {
			if !now.Before(e.ExpiresAt) {
				expired = append(expired, e)
				delete(bucket, id)
				s.size--
			}
		}
		if len(bucket) == 0 {
			delete(s.byRecipient, recipient)
		}
	}
	return expired
}

// Len reports the total number of stored entries across all
// recipients.
func (s *Store) Len() int {
	return s.size
}

func (s *Store) evictOldest() {
	var oldestRecipient identity.NodeId
	var oldestID uuid.UUID
	var oldestAt time.Time
	found := false
	for recipient, bucket := range s.byRecipient {
		for id, e := range bucket {
			if !found || e.StoredAt.Before(oldestAt) {
				oldestRecipient, oldestID, oldestAt, found = recipient, id, e.StoredAt, true
			}
		}
	}
	if found {
		s.Remove(oldestRecipient, oldestID)
	}
}
