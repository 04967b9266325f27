package domain

// View is the conversation a client is currently looking at: the global
// room or a private conversation with one peer. The zero value is Global.
type View struct {
	peer string
}

// Global is the shared broadcast room.
func Global() View { return View{} }

// PrivateWith is the 1:1 conversation with peerID.
func PrivateWith(peerID string) View { return View{peer: peerID} }

func (v View) IsGlobal() bool { return v.peer == "" }

// PeerID returns the private peer, or "" for the global room.
func (v View) PeerID() string { return v.peer }

// Recipient is the address a message sent from this view goes to.
func (v View) Recipient() Recipient {
	if v.IsGlobal() {
		return Broadcast()
	}
	return DirectedTo(v.peer)
}

func (v View) String() string {
	if v.IsGlobal() {
		return "global"
	}
	return "private:" + v.peer
}

// Shows reports whether m belongs in this view for user self.
//
// A broadcast is shown only in the global room. A directed message is shown
// only in the private view whose {self, peer} pair equals the message's
// {sender, recipient} pair.
func (v View) Shows(self string, m Message) bool {
	if m.Recipient.IsBroadcast() {
		return v.IsGlobal()
	}
	if v.IsGlobal() {
		return false
	}
	return m.Between(self, v.peer)
}

// Validate rejects a private view with oneself.
func (v View) Validate(self string) error {
	if !v.IsGlobal() && v.peer == self {
		return Invalid("cannot open a private conversation with yourself")
	}
	return nil
}

// Notifies reports whether m should raise a notification for self,
// independent of any view: it was sent by someone else and is either a
// broadcast or addressed to self.
func Notifies(self string, m Message) bool {
	if m.SenderID == self {
		return false
	}
	return m.Recipient.IsBroadcast() || m.Recipient.PeerID() == self
}
