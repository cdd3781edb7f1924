package webrtc

import (
	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peerlink/internal/event"
	"github.com/rudransh-shrivastava/peerlink/internal/transfer"
)

// dataChannel exposes a pion data channel as a transfer.Channel. Pion keeps
// one handler per event, so each is fanned out to any number of listeners.
type dataChannel struct {
	closes    event.Bus[struct{}]
	dc        *webrtc.DataChannel
	direction transfer.Direction
	lows      event.Bus[struct{}]
	messages  event.Bus[[]byte]
	opens     event.Bus[struct{}]
}

func newDataChannel(dc *webrtc.DataChannel, direction transfer.Direction) *dataChannel {
	d := &dataChannel{dc: dc, direction: direction}

	dc.OnOpen(func() { d.opens.Emit(struct{}{}) })
	dc.OnClose(func() { d.closes.Emit(struct{}{}) })
	dc.OnBufferedAmountLow(func() { d.lows.Emit(struct{}{}) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.messages.Emit(msg.Data)
	})
	return d
}

func (d *dataChannel) Label() string                 { return d.dc.Label() }
func (d *dataChannel) Direction() transfer.Direction { return d.direction }
func (d *dataChannel) BufferedAmount() uint64        { return d.dc.BufferedAmount() }

func (d *dataChannel) SetBufferedAmountLowThreshold(n uint64) {
	d.dc.SetBufferedAmountLowThreshold(n)
}

func (d *dataChannel) ReadyState() transfer.ReadyState {
	switch d.dc.ReadyState() {
	case webrtc.DataChannelStateOpen:
		return transfer.StateOpen
	case webrtc.DataChannelStateClosing:
		return transfer.StateClosing
	case webrtc.DataChannelStateClosed:
		return transfer.StateClosed
	default:
		return transfer.StateConnecting
	}
}

func (d *dataChannel) Send(data []byte) error {
	if d.ReadyState() != transfer.StateOpen {
		return transfer.ErrChannelNotReady
	}
	return d.dc.Send(data)
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}

func (d *dataChannel) OnOpen(fn func()) func() {
	return d.opens.Subscribe(func(struct{}) { fn() })
}

func (d *dataChannel) OnClose(fn func()) func() {
	return d.closes.Subscribe(func(struct{}) { fn() })
}

func (d *dataChannel) OnMessage(fn func([]byte)) func() {
	return d.messages.Subscribe(fn)
}

func (d *dataChannel) OnBufferedAmountLow(fn func()) func() {
	return d.lows.Subscribe(func(struct{}) { fn() })
}
