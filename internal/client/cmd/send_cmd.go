package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rudransh-shrivastava/peerlink/internal/call"
	"github.com/rudransh-shrivastava/peerlink/internal/direct"
	"github.com/rudransh-shrivastava/peerlink/internal/rate"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	direct string
	name   string
	peer   peerFlags
}

var sendCmd = &cobra.Command{
	Use:   "send path/to/file",
	Short: "sends a file to the other member of a room",
	Long: `joins a room on the relay, waits for the other member and sends the file over a WebRTC data channel.
			With --direct the file goes straight to a receiver listening on QUIC instead`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		name := filepath.Base(args[0])
		if sendFlags.name != "" {
			name = sendFlags.name
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if sendFlags.direct != "" {
			return sendDirect(ctx, sendFlags.direct, name, f, info.Size())
		}

		pc := sendFlags.peer.apply(cmd, cfg.Peer)
		s, err := openSession(ctx, pc, sendFlags.peer.tcp)
		if err != nil {
			return err
		}
		defer s.Close()

		lg.Infof("Waiting for a peer in room %s", pc.Room)
		remote, err := s.waitPeer(ctx)
		if err != nil {
			return err
		}
		lg.Infof("Sending %s (%d bytes) to %s", name, info.Size(), remote)

		view := newProgressView(name, info.Size())
		cancel := s.call.Subscribe(func(ev call.Event) {
			switch ev.Type {
			case call.EventProgress:
				if ev.Transfer.Role == transfer.RoleSender {
					view.Update(ev.Transfer.Bytes, ev.Transfer.Total, s.call.State().InstantaneousRateKbps)
				}
			case call.EventSessionError:
				lg.Warnf("Session with %s: %v", ev.PeerID, ev.Err)
			}
		})
		defer cancel()

		if err := s.call.SendFile(ctx, name, f, info.Size()); err != nil {
			return err
		}
		view.Finish()

		if err := s.waitDelivered(ctx); err != nil {
			return err
		}
		lg.Infof("Delivered %s, peak %d kbit/s", name, s.call.State().PeakRateKbps)
		return nil
	},
}

func sendDirect(ctx context.Context, addr, name string, r io.Reader, size int64) error {
	tr, err := transport.NewTransport("0.0.0.0:0", cfg.Direct.Transport(cfg.Peer.Username, lg))
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	peer, err := tr.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = peer.Close() }()

	lg.Infof("Sending %s (%d bytes) to %s over QUIC", name, size, peer.RemoteAddr())

	view := newProgressView(name, size)
	sampler := rate.NewSampler()
	err = direct.Send(ctx, peer, name, r, size, direct.Options{
		ChunkSize:    cfg.Peer.ChunkSize,
		Logger:       lg,
		LowWaterMark: uint64(cfg.Peer.LowWaterMark),
		Progress: func(ev transfer.Event) {
			if ev.Type == transfer.EventProgress {
				sampler.Observe(ev.Bytes)
				view.Update(ev.Bytes, ev.Total, sampler.Current())
			}
		},
	})
	if err != nil {
		return fmt.Errorf("direct send: %w", err)
	}
	view.Finish()
	lg.Infof("Delivered %s, peak %d kbit/s", name, sampler.Peak())
	return nil
}

func init() {
	sendCmd.Flags().StringVar(&sendFlags.direct, "direct", "", "send over QUIC to a receiver listening at host:port")
	sendCmd.Flags().StringVar(&sendFlags.name, "name", "", "name announced to the receiver (default the file's base name)")
	sendFlags.peer.register(sendCmd)
}
