package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rudransh-shrivastava/peerlink/internal/discovery"
	"github.com/rudransh-shrivastava/peerlink/internal/relay"
	"github.com/spf13/cobra"
)

var relayFlags struct {
	addr      string
	advertise bool
	capacity  int
	instance  string
	tcpAddr   string
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "runs the signaling relay",
	Long: `runs the websocket relay that pairs two peers per room and forwards their offers, answers and candidates.
			With --advertise the relay is also published on the local network over mDNS`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := cfg.Relay
		flags := cmd.Flags()
		if flags.Changed("addr") {
			rc.Addr = relayFlags.addr
		}
		if flags.Changed("tcp-addr") {
			rc.TCPAddr = relayFlags.tcpAddr
		}
		if flags.Changed("capacity") {
			rc.Capacity = relayFlags.capacity
		}
		if flags.Changed("advertise") {
			rc.Advertise = relayFlags.advertise
		}
		if flags.Changed("instance") {
			rc.Instance = relayFlags.instance
		}

		srv, err := relay.NewServer(relay.Config{
			Addr:     rc.Addr,
			Capacity: rc.Capacity,
			Logger:   lg,
			TCPAddr:  rc.TCPAddr,
		})
		if err != nil {
			return err
		}
		defer func() { _ = srv.Shutdown() }()

		if rc.Advertise {
			port, err := portOf(srv.Addr())
			if err != nil {
				return err
			}
			var tcpPort int
			if srv.TCPAddr() != "" {
				if tcpPort, err = portOf(srv.TCPAddr()); err != nil {
					return err
				}
			}
			adv, err := discovery.Advertise(discovery.AdvertiseOptions{
				Instance: rc.Instance,
				Logger:   lg,
				Path:     relay.WebsocketPath,
				Port:     port,
				TCPPort:  tcpPort,
			})
			if err != nil {
				return err
			}
			defer adv.Shutdown()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = srv.Start(ctx)
		if errors.Is(err, context.Canceled) {
			lg.Info("Shutting down relay")
			return nil
		}
		return err
	},
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse address %s: %w", addr, err)
	}
	return strconv.Atoi(p)
}

func init() {
	relayCmd.Flags().StringVar(&relayFlags.addr, "addr", "", "websocket listen address (default from config, :8080)")
	relayCmd.Flags().StringVar(&relayFlags.tcpAddr, "tcp-addr", "", "also accept protobuf-framed TCP clients on this address")
	relayCmd.Flags().IntVar(&relayFlags.capacity, "capacity", 0, "members per room")
	relayCmd.Flags().BoolVar(&relayFlags.advertise, "advertise", false, "publish the relay over mDNS")
	relayCmd.Flags().StringVar(&relayFlags.instance, "instance", "", "mDNS instance name")
}
