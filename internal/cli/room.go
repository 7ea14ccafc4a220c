package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hardspoon/chatsemble/internal/config"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create rooms and manage their members",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomAddMemberCmd())
	cmd.AddCommand(newRoomRemoveMemberCmd())
	return cmd
}

func newRoomCreateCmd() *cobra.Command {
	var (
		roomType string
		members  []string
	)

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a chat room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			refs := make([]map[string]string, 0, len(members))
			for _, id := range members {
				refs = append(refs, map[string]string{"id": id})
			}
			body := map[string]any{
				"name":    args[0],
				"type":    roomType,
				"members": refs,
			}

			var resp struct {
				RoomID string `json:"roomId"`
				Room   struct {
					Name string `json:"name"`
				} `json:"room"`
				Members []struct {
					MemberID string `json:"memberId"`
					Role     string `json:"role"`
				} `json:"members"`
			}
			if err := callAPI(cfg, "POST", "/chat-rooms", body, &resp); err != nil {
				return err
			}

			fmt.Printf("created room %s (%s)\n", resp.Room.Name, resp.RoomID)
			for _, m := range resp.Members {
				fmt.Printf("  %s (%s)\n", m.MemberID, m.Role)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&roomType, "type", "public", "room type (public, privateGroup, oneToOne)")
	cmd.Flags().StringSliceVar(&members, "member", nil, "member id to include (repeatable)")
	return cmd
}

func newRoomAddMemberCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add-member ROOM_ID MEMBER_ID",
		Short: "Add a member to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			body := map[string]string{"id": args[1], "role": role}
			if err := callAPI(cfg, "POST", "/chat-rooms/"+args[0]+"/members", body, nil); err != nil {
				return err
			}
			fmt.Printf("added %s to %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "member", "member role (admin, member)")
	return cmd
}

func newRoomRemoveMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-member ROOM_ID MEMBER_ID",
		Short: "Remove a member from a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if err := callAPI(cfg, "DELETE", "/chat-rooms/"+args[0]+"/members/"+args[1], nil, nil); err != nil {
				return err
			}
			fmt.Printf("removed %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

// callAPI performs one authenticated JSON request against the server
// named in the client config.
func callAPI(cfg config.Config, method, path string, body, out any) error {
	scheme := "http"
	if cfg.Client.TLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, cfg.Client.Host, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Client.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Client.Token)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed (%d)", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// wsRoomURL builds the WebSocket endpoint for a room.
func wsRoomURL(cfg config.Config, roomID string) string {
	scheme := "ws"
	if cfg.Client.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/chat-room/ws/%s", scheme, cfg.Client.Host, roomID)
}
