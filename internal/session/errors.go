package session

import (
	"fmt"

	"github.com/nfrund/peerchat/internal/domain"
)

// SendError is returned by Send. It keeps what the user typed so the caller
// can offer a retry.
type SendError struct {
	Input string
	To    domain.Recipient
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
