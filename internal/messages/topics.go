package messages

import (
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/pubsub"
)

// MessageCreated is published once per committed message, after the commit,
// with the sender profile already resolved. Metadata carries
// pubsub.MetaRecipientKind ("broadcast" or "directed") and, for directed
// messages, pubsub.MetaRecipientID.
var MessageCreated = pubsub.NewEvent[domain.Message](
	"chat.message.created",
	"A chat message was committed to the store",
)

// RoutingMetadata builds the bus metadata for m.
func RoutingMetadata(m domain.Message) map[string]string {
	if m.Recipient.IsBroadcast() {
		return map[string]string{pubsub.MetaRecipientKind: "broadcast"}
	}
	return map[string]string{
		pubsub.MetaRecipientKind: "directed",
		pubsub.MetaRecipientID:   m.Recipient.PeerID(),
	}
}
