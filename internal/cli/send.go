package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hardspoon/chatsemble/internal/client"
	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/wire"
)

func newSendCmd() *cobra.Command {
	var (
		threadID string
		mentions []string
	)

	cmd := &cobra.Command{
		Use:   "send ROOM_ID TEXT...",
		Short: "Send a message to a room",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			conn, sub, err := openRoom(cfg, args[0])
			if err != nil {
				return err
			}
			defer conn.Disconnect()
			defer sub.Close()

			if err := waitReady(conn, 15*time.Second); err != nil {
				return err
			}

			var thread *string
			if threadID != "" {
				thread = &threadID
			}
			var refs []domain.Mention
			for _, id := range mentions {
				refs = append(refs, domain.Mention{ID: id, Name: id})
			}

			msg, err := sub.SendMessage(strings.Join(args[1:], " "), thread, refs)
			if err != nil {
				return fmt.Errorf("sending message: %w", err)
			}

			// Wait for the server echo so the user knows it landed.
			deadline := time.Now().Add(time.Duration(cfg.Client.SendTimeoutSec) * time.Second)
			for time.Now().Before(deadline) {
				if sub.PendingCount() == 0 {
					fmt.Println("delivered")
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
			return fmt.Errorf("message %s was not confirmed", msg.ID)
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "reply inside the thread rooted at this message id")
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "member id to mention (repeatable)")
	return cmd
}

// openRoom builds a connection manager and subscription for a room and
// starts connecting.
func openRoom(cfg config.Config, roomID string) (*client.ConnectionManager, *client.RoomSubscription, error) {
	var sub *client.RoomSubscription

	conn, err := client.NewConnectionManager(client.Options{
		URL:   wsRoomURL(cfg, roomID),
		Token: cfg.Client.Token,
		OnFrame: func(f wire.Frame) {
			sub.HandleFrame(f)
		},
		Log: log.Sub("client"),
	})
	if err != nil {
		return nil, nil, err
	}

	self := domain.MessageAuthor{Name: "me", Type: domain.MemberTypeUser}
	sub = client.NewRoomSubscription(conn, self,
		time.Duration(cfg.Client.SendTimeoutSec)*time.Second, log.Sub("client"))

	conn.Connect()
	return conn, sub, nil
}

// waitReady blocks until the connection has received its initial sync.
func waitReady(conn *client.ConnectionManager, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.Status() == client.StatusReady {
			return nil
		}
		time.Sleep(25 * time.Millisecond)
	}
	return fmt.Errorf("connection not ready after %s (status %s)", timeout, conn.Status())
}
