package relay

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultCapacity = 2
	WebsocketPath   = "/ws"
)

type Config struct {
	// Addr is the HTTP listen address serving the websocket endpoint.
	Addr     string
	Capacity int
	// DB holds room membership. Nil opens a private in-memory database.
	DB     *gorm.DB
	Logger *logrus.Logger
	// TCPAddr enables the protobuf-framed TCP listener when set.
	TCPAddr string
}
