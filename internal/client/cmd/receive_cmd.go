package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rudransh-shrivastava/peerlink/internal/call"
	"github.com/rudransh-shrivastava/peerlink/internal/direct"
	"github.com/rudransh-shrivastava/peerlink/internal/rate"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/spf13/cobra"
)

var receiveFlags struct {
	keep   bool
	listen string
	out    string
	peer   peerFlags
}

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "receives files from the other member of a room",
	Long: `joins a room on the relay and writes every file the other member sends into the output directory.
			With --listen it waits for a direct QUIC sender instead`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(receiveFlags.out, 0o755); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if receiveFlags.listen != "" {
			return receiveDirect(ctx, receiveFlags.listen)
		}

		pc := receiveFlags.peer.apply(cmd, cfg.Peer)
		s, err := openSession(ctx, pc, receiveFlags.peer.tcp)
		if err != nil {
			return err
		}
		defer s.Close()
		lg.Infof("Waiting for files in room %s", pc.Room)

		results := make(chan *call.Result, 4)
		failures := make(chan error, 4)
		var view *progressView
		cancel := s.call.Subscribe(func(ev call.Event) {
			switch ev.Type {
			case call.EventPeerJoined:
				lg.Infof("%s joined", ev.Username)
			case call.EventPeerLeft:
				lg.Infof("%s left", ev.Username)
			case call.EventSessionError:
				lg.Warnf("Session with %s: %v", ev.PeerID, ev.Err)
			case call.EventMessage:
				lg.Infof("Message from %s: %s", ev.PeerID, ev.Text)
			case call.EventProgress:
				if ev.Transfer.Role != transfer.RoleReceiver {
					return
				}
				if view == nil {
					view = newProgressView(ev.Name, ev.Transfer.Total)
				}
				view.Update(ev.Transfer.Bytes, ev.Transfer.Total, s.call.State().InstantaneousRateKbps)
			case call.EventTransferComplete:
				if ev.Result == nil {
					return
				}
				if view != nil {
					view.Finish()
					view = nil
				}
				results <- ev.Result
			case call.EventTransferAborted:
				if ev.Transfer.Role == transfer.RoleReceiver {
					view = nil
					failures <- ev.Err
				}
			}
		})
		defer cancel()

		for {
			select {
			case res := <-results:
				path, err := writeResult(res.Name, res.Data)
				if err != nil {
					return err
				}
				lg.Infof("Saved %s (%d bytes)", path, len(res.Data))
				if !receiveFlags.keep {
					return nil
				}
			case err := <-failures:
				lg.Warnf("Transfer aborted: %v", err)
				if !receiveFlags.keep {
					return err
				}
			case err := <-s.served:
				if err == nil {
					err = call.ErrRelayDisconnected
				}
				return err
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func receiveDirect(ctx context.Context, addr string) error {
	tr, err := transport.NewTransport(addr, cfg.Direct.Transport(cfg.Peer.Username, lg))
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	lg.Infof("Waiting for a direct sender on %s", tr.LocalAddr())
	peer, err := tr.Accept(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = peer.Close() }()

	var view *progressView
	sampler := rate.NewSampler()
	res, err := direct.Receive(ctx, peer, direct.Options{
		Logger: lg,
		Progress: func(ev transfer.Event) {
			if ev.Type != transfer.EventProgress {
				return
			}
			if view == nil {
				view = newProgressView(ev.Label, ev.Total)
			}
			sampler.Observe(ev.Bytes)
			view.Update(ev.Bytes, ev.Total, sampler.Current())
		},
	})
	if err != nil {
		return fmt.Errorf("direct receive: %w", err)
	}
	if view != nil {
		view.Finish()
	}

	path, err := writeResult(res.Name, res.Data)
	if err != nil {
		return err
	}
	lg.Infof("Saved %s (%d bytes), peak %d kbit/s", path, len(res.Data), sampler.Peak())
	return nil
}

// writeResult stores data under the output directory. The announced name is
// reduced to its base name so a sender cannot write elsewhere.
func writeResult(name string, data []byte) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		base = "received.bin"
	}
	path := filepath.Join(receiveFlags.out, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func init() {
	receiveCmd.Flags().BoolVar(&receiveFlags.keep, "keep", false, "keep receiving after the first file")
	receiveCmd.Flags().StringVar(&receiveFlags.listen, "listen", "", "accept a direct QUIC sender on this address")
	receiveCmd.Flags().StringVarP(&receiveFlags.out, "out", "o", ".", "directory received files are written to")
	receiveFlags.peer.register(receiveCmd)
}
