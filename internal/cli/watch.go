package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hardspoon/chatsemble/internal/client"
	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/wire"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch ROOM_ID",
		Short: "Stream a room's messages to the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			conn, err := client.NewConnectionManager(client.Options{
				URL:     wsRoomURL(cfg, args[0]),
				Token:   cfg.Client.Token,
				OnFrame: printFrame,
				OnStatus: func(s client.Status) {
					fmt.Printf("-- %s\n", s)
				},
				Log: log.Sub("client"),
			})
			if err != nil {
				return err
			}

			conn.Connect()
			defer conn.Disconnect()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}

// printFrame renders server frames as terminal lines.
func printFrame(f wire.Frame) {
	switch f.Type {
	case wire.FrameMessagesSync:
		for _, m := range f.Messages {
			printMessage(m)
		}
	case wire.FrameMessageBroadcast:
		if f.Message != nil {
			printMessage(*f.Message)
		}
	case wire.FrameMemberSync, wire.FrameMemberUpdate:
		fmt.Printf("-- %d member(s)\n", len(f.Members))
	}
}

func printMessage(m domain.ChatRoomMessage) {
	prefix := ""
	if m.ThreadID != nil {
		prefix = "  ↳ "
	}
	line := m.Content
	if line == "" && len(m.ToolUses) > 0 {
		last := m.ToolUses[len(m.ToolUses)-1]
		if n := len(last.Annotations); n > 0 {
			line = fmt.Sprintf("[%s: %s]", last.ToolName, last.Annotations[n-1].Message)
		} else {
			line = fmt.Sprintf("[%s]", last.ToolName)
		}
	}
	fmt.Printf("%s%s %s: %s\n", prefix, m.CreatedAt.Local().Format(time.Kitchen), m.Member.Name, line)
}
