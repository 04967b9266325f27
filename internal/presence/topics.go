package presence

import (
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/pubsub"
)

// SnapshotPublished carries a complete presence snapshot after every change.
// Metadata carries pubsub.MetaVersion.
var SnapshotPublished = pubsub.NewEvent[domain.PresenceSnapshot](
	"presence.sync",
	"Complete set of online users after a presence change",
)
