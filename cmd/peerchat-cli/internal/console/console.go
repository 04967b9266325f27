// Package console renders chat socket frames as terminal lines and parses
// the slash commands typed at the chat prompt.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nfrund/peerchat/internal/domain"
	chatws "github.com/nfrund/peerchat/internal/websocket"
)

// Command is one parsed input line.
type Command struct {
	Kind string // "send", "view", "sync", "heartbeat", "quit", "help"
	Arg  string
}

// Parse reads an input line. Lines not starting with "/" are sent as
// messages to the current view.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: "send", Arg: line}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "dm", "view":
		if arg == "" {
			return Command{}, fmt.Errorf("/%s needs a user id", name)
		}
		return Command{Kind: "view", Arg: arg}, nil
	case "global":
		return Command{Kind: "view"}, nil
	case "sync", "heartbeat", "quit", "help":
		return Command{Kind: name}, nil
	default:
		return Command{}, fmt.Errorf("unknown command /%s", name)
	}
}

// Help lists the prompt commands.
const Help = `/dm <user>   open a private conversation
/global      return to the global view
/sync        refresh presence
/heartbeat   refresh presence immediately
/quit        leave`

// Render writes a human-readable line for f to w. Frames it does not know
// are ignored.
func Render(w io.Writer, self string, f chatws.Frame) error {
	switch f.Type {
	case chatws.FrameStatus:
		p, err := chatws.DecodePayload[chatws.StatusPayload](f)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "* %s\n", p.Status)
	case chatws.FrameBackfill:
		p, err := chatws.DecodePayload[chatws.BackfillPayload](f)
		if err != nil {
			return err
		}
		title := "global"
		if p.PeerID != "" {
			title = "private with " + p.PeerID
		}
		fmt.Fprintf(w, "--- %s (%d messages) ---\n", title, len(p.Messages))
		for _, m := range p.Messages {
			writeMessage(w, m)
		}
	case chatws.FrameMessage:
		m, err := chatws.DecodePayload[domain.Message](f)
		if err != nil {
			return err
		}
		writeMessage(w, m)
	case chatws.FrameNotification:
		n, err := chatws.DecodePayload[domain.Notification](f)
		if err != nil {
			return err
		}
		if n.InView {
			return nil
		}
		where := "global"
		if !n.Message.Recipient.IsBroadcast() {
			where = "private"
		}
		fmt.Fprintf(w, "! new %s message from %s\n", where, senderName(n.Message))
	case chatws.FramePresence:
		snap, err := chatws.DecodePayload[domain.PresenceSnapshot](f)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(snap.Entries))
		for _, e := range snap.Entries {
			if e.UserID == self {
				continue
			}
			names = append(names, e.DisplayName)
		}
		fmt.Fprintf(w, "* online: %s\n", strings.Join(names, ", "))
	case chatws.FrameError:
		p, err := chatws.DecodePayload[chatws.ErrorPayload](f)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "! %s: %s\n", p.Code, p.Message)
		if p.Input != "" {
			fmt.Fprintf(w, "  not sent: %s\n", p.Input)
		}
	}
	return nil
}

func writeMessage(w io.Writer, m domain.Message) {
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), senderName(m), m.Content)
}

func senderName(m domain.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

// Decode is a convenience for tests and tools that hold raw frames.
func Decode(data []byte) (chatws.Frame, error) {
	var f chatws.Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
