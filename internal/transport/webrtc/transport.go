// Package webrtc backs negotiation sessions and transfer channels with pion
// peer connections and data channels.
package webrtc

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/logger"
	"github.com/rudransh-shrivastava/peerlink/internal/negotiation"
	"github.com/sirupsen/logrus"
)

// ChannelProtocol is the data channel subprotocol used for file transfers.
const ChannelProtocol = "file-transfer"

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// DefaultSTUNConfig builds a configuration using servers, or the public
// defaults when none are given.
func DefaultSTUNConfig(servers ...string) webrtc.Configuration {
	if len(servers) == 0 {
		servers = DefaultSTUNServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: servers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	protocolName := ChannelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}

type Options struct {
	Configuration webrtc.Configuration
	Logger        *logrus.Logger
}

// Transport creates peer connections sharing one pion API.
type Transport struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *logrus.Logger
}

func New(opts Options) (*Transport, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	settings := webrtc.SettingEngine{
		LoggerFactory: logger.PionFactory{Logger: opts.Logger},
	}

	return &Transport{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings)),
		config: opts.Configuration,
		logger: opts.Logger,
	}, nil
}

// NewConnection returns a fresh peer connection for one session.
func (t *Transport) NewConnection() (negotiation.PeerConnection, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return newConnection(pc, t.logger), nil
}
