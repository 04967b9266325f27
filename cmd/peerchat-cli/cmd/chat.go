package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/nfrund/peerchat/cmd/peerchat-cli/internal/console"
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/logging"
	"github.com/nfrund/peerchat/internal/wsclient"
	"github.com/spf13/cobra"
)

var (
	chatServer string
	chatToken  string
	chatPeer   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Connect to a peerchat server and chat from the terminal. Lines you type are
sent to the current view; lines starting with "/" are commands:

` + console.Help + `

The connection is re-established automatically and the open view is
restored after a reconnect.

Examples:
  peerchat-cli chat --server http://localhost:8080 --token "$(peerchat-cli token alice)"
  peerchat-cli chat --token "$TOKEN" --dm bob`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatToken == "" {
		chatToken = os.Getenv("PEERCHAT_TOKEN")
	}
	if chatToken == "" {
		return errors.New("a token is required: --token or PEERCHAT_TOKEN")
	}
	// The server verifies the token; the CLI only needs the user id to
	// hide itself from the presence line.
	claims, err := auth.UnverifiedClaims(chatToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	self := claims.Identity().UserID

	out := cmd.OutOrStdout()
	client, err := wsclient.New(chatServer, chatToken,
		wsclient.WithLogger(logging.NewLogger(cmd.ErrOrStderr(), "text", "warn")),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	go func() {
		for f := range client.Frames() {
			if err := console.Render(out, self, f); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "bad frame %s: %v\n", f.Type, err)
			}
		}
	}()

	if chatPeer != "" {
		if err := client.SetView(chatPeer); err != nil && !errors.Is(err, wsclient.ErrClosed) {
			fmt.Fprintf(cmd.ErrOrStderr(), "open view: %v\n", err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-runErr:
			return ignoreCanceled(err)
		case line, ok := <-lines:
			if !ok {
				_ = client.Close()
				return ignoreCanceled(<-runErr)
			}
			quit, err := handleLine(client, line)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
			}
			if quit {
				_ = client.Close()
				return ignoreCanceled(<-runErr)
			}
		}
	}
}

type chatClient interface {
	SetView(peerID string) error
	Send(content string) error
	Sync() error
	Heartbeat() error
}

func handleLine(c chatClient, line string) (quit bool, err error) {
	command, err := console.Parse(line)
	if err != nil {
		return false, err
	}
	switch command.Kind {
	case "send":
		if command.Arg == "" {
			return false, nil
		}
		return false, c.Send(command.Arg)
	case "view":
		return false, c.SetView(command.Arg)
	case "sync":
		return false, c.Sync()
	case "heartbeat":
		return false, c.Heartbeat()
	case "help":
		fmt.Println(console.Help)
		return false, nil
	case "quit":
		return true, nil
	}
	return false, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, wsclient.ErrClosed) {
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "Server base URL")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "Bearer token (defaults to $PEERCHAT_TOKEN)")
	chatCmd.Flags().StringVar(&chatPeer, "dm", "", "Open a private conversation with this user on connect")
}
