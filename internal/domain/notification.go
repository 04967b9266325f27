package domain

// Notification is raised for messages addressed to a user (or broadcast)
// by someone else, whatever view the user has open. InView is true when
// the message is also visible in that view at delivery time.
type Notification struct {
	Message Message `json:"message"`
	InView  bool    `json:"in_view"`
}
