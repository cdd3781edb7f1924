package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peerlink/internal/call"
	"github.com/rudransh-shrivastava/peerlink/internal/config"
	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
	"github.com/rudransh-shrivastava/peerlink/internal/transport/webrtc"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// deliveryTimeout bounds the wait for the receiver to close the channel
// after the last chunk was handed over.
const deliveryTimeout = 30 * time.Second

// peerFlags override the [peer] section of the config.
type peerFlags struct {
	relay    string
	room     string
	tcp      string
	username string
}

func (f *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.relay, "relay", "", "relay websocket URL")
	cmd.Flags().StringVar(&f.tcp, "tcp", "", "reach the relay over its TCP listener at host:port instead")
	cmd.Flags().StringVarP(&f.room, "room", "r", "", "room to join")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "name shown to the other peer")
}

func (f *peerFlags) apply(cmd *cobra.Command, pc config.PeerConfig) config.PeerConfig {
	flags := cmd.Flags()
	if flags.Changed("relay") {
		pc.RelayURL = f.relay
	}
	if flags.Changed("room") {
		pc.Room = f.room
	}
	if flags.Changed("username") {
		pc.Username = f.username
	}
	return pc
}

// peerSession is a joined call with its served relay link and history store.
type peerSession struct {
	call    *call.Call
	gdb     *gorm.DB
	history *store.TransferStore
	served  chan error
}

func openSession(ctx context.Context, pc config.PeerConfig, tcpAddr string) (*peerSession, error) {
	gdb, err := db.Open(pc.HistoryDB)
	if err != nil {
		return nil, err
	}

	opts := signaling.DialOptions{Logger: lg}
	var link signaling.Link
	if tcpAddr != "" {
		link, err = signaling.DialTCP(ctx, tcpAddr, opts)
	} else {
		link, err = signaling.Dial(ctx, pc.RelayURL, opts)
	}
	if err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	tr, err := webrtc.New(webrtc.Options{
		Configuration: webrtc.DefaultSTUNConfig(pc.STUNServers...),
		Logger:        lg,
	})
	if err != nil {
		_ = link.Close()
		_ = db.Close(gdb)
		return nil, err
	}

	history := store.NewTransferStore(gdb)
	s := &peerSession{
		call: call.New(call.Options{
			ChunkSize:      pc.ChunkSize,
			Link:           link,
			Logger:         lg,
			LowWaterMark:   uint64(pc.LowWaterMark),
			NewConnection:  tr.NewConnection,
			SampleInterval: pc.SampleInterval,
			Transfers:      history,
		}),
		gdb:     gdb,
		history: history,
		served:  make(chan error, 1),
	}
	go func() { s.served <- s.call.Serve(ctx) }()

	if err := s.call.Join(ctx, pc.Room, pc.Username); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// waitPeer waits for the other member, failing early when the relay link
// ends first.
func (s *peerSession) waitPeer(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type found struct {
		remote string
		err    error
	}
	ch := make(chan found, 1)
	go func() {
		remote, err := s.call.WaitPeer(ctx)
		ch <- found{remote, err}
	}()

	select {
	case f := <-ch:
		return f.remote, f.err
	case err := <-s.served:
		if err == nil {
			err = call.ErrRelayDisconnected
		}
		return "", fmt.Errorf("waiting for peer: %w", err)
	}
}

// waitDelivered returns once the outbound channel is closed by the receiver.
func (s *peerSession) waitDelivered(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.call.State().ChannelReadyState == transfer.StateClosed {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for delivery: %w", ctx.Err())
		}
	}
}

func (s *peerSession) Close() {
	if err := s.call.Close(); err != nil {
		lg.Debugf("Closing relay link: %v", err)
	}
	if err := db.Close(s.gdb); err != nil {
		lg.Debugf("Closing history database: %v", err)
	}
}
