package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var messageFlags struct {
	peer peerFlags
}

var messageCmd = &cobra.Command{
	Use:   "message text...",
	Short: "sends a short text message to the other member of a room",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pc := messageFlags.peer.apply(cmd, cfg.Peer)
		s, err := openSession(ctx, pc, messageFlags.peer.tcp)
		if err != nil {
			return err
		}
		defer s.Close()

		remote, err := s.waitPeer(ctx)
		if err != nil {
			return err
		}
		if err := s.call.SendMessage(ctx, text); err != nil {
			return err
		}
		lg.Infof("Message delivered to %s", remote)
		return nil
	},
}

func init() {
	messageFlags.peer.register(messageCmd)
}
