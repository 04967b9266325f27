package domain

import (
	"bytes"
	"encoding/json"
)

// Recipient addresses a message either to everyone or to a single peer.
// The zero value is Broadcast.
type Recipient struct {
	peer string
}

// Broadcast addresses every connected user.
func Broadcast() Recipient { return Recipient{} }

// DirectedTo addresses a single peer.
func DirectedTo(peerID string) Recipient { return Recipient{peer: peerID} }

// RecipientFromID converts the nullable storage form back into a Recipient.
func RecipientFromID(id *string) Recipient {
	if id == nil || *id == "" {
		return Broadcast()
	}
	return DirectedTo(*id)
}

// IsBroadcast reports whether r addresses everyone.
func (r Recipient) IsBroadcast() bool { return r.peer == "" }

// PeerID returns the addressed peer, or "" for a broadcast.
func (r Recipient) PeerID() string { return r.peer }

// ID returns the nullable storage form.
func (r Recipient) ID() *string {
	if r.IsBroadcast() {
		return nil
	}
	p := r.peer
	return &p
}

func (r Recipient) String() string {
	if r.IsBroadcast() {
		return "broadcast"
	}
	return "directed:" + r.peer
}

// MarshalJSON encodes a broadcast as null and a directed recipient as its id.
func (r Recipient) MarshalJSON() ([]byte, error) {
	if r.IsBroadcast() {
		return []byte("null"), nil
	}
	return json.Marshal(r.peer)
}

// UnmarshalJSON accepts null, "" or a peer id.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Broadcast()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*r = DirectedTo(id)
	return nil
}
