package topics

import (
	"github.com/nfrund/peerchat/internal/topicmgr"

	// Importing the publishing packages registers their events.
	_ "github.com/nfrund/peerchat/internal/messages"
	_ "github.com/nfrund/peerchat/internal/presence"
)

// Catalog returns the topic manager holding every event the server
// publishes.
func Catalog() *topicmgr.Manager {
	return topicmgr.Default()
}
