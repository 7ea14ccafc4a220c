// Package cli wires the chatsemble commands: the server, room
// administration, and the terminal chat client.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatsemble",
		Short: "Chatsemble - collaborative chat rooms with AI agent members",
		Long:  "Chatsemble runs real-time chat rooms where humans and AI agents collaborate. One binary serves the room coordinator and the terminal client.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(logging.Options{Level: level})
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatsemble/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRoomCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
