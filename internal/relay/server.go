package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peerlink/internal/db"
	"github.com/rudransh-shrivastava/peerlink/internal/protocol"
	"github.com/rudransh-shrivastava/peerlink/internal/signaling"
	"github.com/rudransh-shrivastava/peerlink/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server relays signaling envelopes between the two members of a room.
type Server struct {
	cancel   context.CancelFunc
	capacity int
	ctx      context.Context
	gdb      *gorm.DB
	hub      *hub
	httpLn   net.Listener
	httpSrv  *http.Server
	logger   *logrus.Logger
	ownsDB   bool
	rooms    store.RoomRepository
	tcpLn    net.Listener

	conns    sync.WaitGroup
	joinMu   sync.Mutex
	mu       sync.Mutex
	shutdown bool
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	gdb, ownsDB := cfg.DB, false
	if gdb == nil {
		var err error
		if gdb, err = db.Open(db.MemoryPath); err != nil {
			return nil, err
		}
		ownsDB = true
	}
	rooms := store.NewRoomStore(gdb)
	if err := rooms.DropAll(context.Background()); err != nil {
		return nil, fmt.Errorf("reset rooms: %w", err)
	}

	httpLn, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	var tcpLn net.Listener
	if cfg.TCPAddr != "" {
		if tcpLn, err = net.Listen("tcp", cfg.TCPAddr); err != nil {
			_ = httpLn.Close()
			return nil, fmt.Errorf("listen %s: %w", cfg.TCPAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cancel:   cancel,
		capacity: capacity,
		ctx:      ctx,
		gdb:      gdb,
		hub:      newHub(),
		httpLn:   httpLn,
		logger:   logger,
		ownsDB:   ownsDB,
		rooms:    rooms,
		tcpLn:    tcpLn,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebsocketPath, s.handleWebsocket)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) Addr() string {
	return s.httpLn.Addr().String()
}

// URL is the websocket URL clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + WebsocketPath
}

// TCPAddr is empty when the TCP listener is disabled.
func (s *Server) TCPAddr() string {
	if s.tcpLn == nil {
		return ""
	}
	return s.tcpLn.Addr().String()
}

// Start serves until ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Infof("Relay listening on %s", s.URL())

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpSrv.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if s.tcpLn != nil {
		s.logger.Infof("Relay listening on %s (tcp)", s.TCPAddr())
		go func() { errCh <- s.acceptTCP() }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown tells every member the relay is going away and closes all
// listeners and connections.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("Shutting down relay")

	disconnected, _ := protocol.NewEnvelope(protocol.KindDisconnected, protocol.Disconnected{})
	for _, m := range s.hub.all() {
		m.enqueue(disconnected)
		m.close()
		_ = m.conn.Close()
	}

	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	s.conns.Wait()

	if dropErr := s.rooms.DropAll(context.Background()); dropErr != nil {
		s.logger.Warnf("Failed to clear rooms: %v", dropErr)
	}
	if s.ownsDB {
		_ = db.Close(s.gdb)
	}
	return err
}

func (s *Server) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) acceptTCP() error {
	for {
		c, err := s.tcpLn.Accept()
		if err != nil {
			if s.closing() {
				return nil
			}
			return fmt.Errorf("accept tcp: %w", err)
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handlePeer(signaling.NewTCPConn(c), c.RemoteAddr().String())
		}()
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.closing() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()
	s.handlePeer(signaling.NewWSConn(c), r.RemoteAddr)
}

func (s *Server) handlePeer(conn signaling.Conn, remoteAddr string) {
	s.logger.Debugf("Connection from %s", remoteAddr)
	defer func() {
		_ = conn.Close()
		s.logger.Debugf("Connection from %s closed", remoteAddr)
	}()

	m, err := s.join(conn)
	if err != nil {
		s.logger.Warnf("Rejected join from %s: %v", remoteAddr, err)
		s.reject(conn, err)
		return
	}
	defer s.leave(m)

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, signaling.ErrMalformedEnvelope) {
				s.logger.Warnf("Dropping envelope from %s: %v", m.peerID, err)
				continue
			}
			if !s.closing() {
				s.logger.Debugf("Read from %s ended: %v", m.peerID, err)
			}
			return
		}

		s.handleMessage(m, env)
	}
}

func (s *Server) join(conn signaling.Conn) (*member, error) {
	env, err := conn.ReadEnvelope()
	if err != nil {
		return nil, err
	}
	if env.Kind != protocol.KindJoin {
		return nil, fmt.Errorf("expected %s, got %s", protocol.KindJoin, env.Kind)
	}

	var join protocol.Join
	if err := env.Decode(&join); err != nil {
		return nil, err
	}
	if err := join.Validate(); err != nil {
		return nil, err
	}
	if join.PeerID == "" {
		join.PeerID = uuid.NewString()
	}

	// Membership and the hub change together so both sides see each other.
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	existing, err := s.rooms.Join(s.ctx, join.Room, join.PeerID, join.Username, s.capacity)
	if err != nil {
		return nil, err
	}

	m := newMember(conn, join.PeerID, join.Username, join.Room, s.logger)
	s.hub.add(m)
	s.logger.Infof("Peer %s (%s) joined room %s", join.PeerID, join.Username, join.Room)

	for _, e := range existing {
		if env, err := protocol.NewEnvelope(protocol.KindPeerJoined, protocol.PeerEvent{PeerID: e.PeerID, Username: e.Username}); err == nil {
			m.enqueue(env)
		}
	}

	joined, _ := protocol.NewEnvelope(protocol.KindPeerJoined, protocol.PeerEvent{PeerID: m.peerID, Username: m.username})
	for _, o := range s.hub.others(m.room, m.peerID) {
		o.enqueue(joined)
	}
	return m, nil
}

func (s *Server) leave(m *member) {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	if !s.hub.remove(m) {
		return
	}
	m.close()

	if _, err := s.rooms.Leave(context.Background(), m.peerID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warnf("Failed to remove %s from room %s: %v", m.peerID, m.room, err)
	}
	s.logger.Infof("Peer %s left room %s", m.peerID, m.room)

	left, _ := protocol.NewEnvelope(protocol.KindPeerLeft, protocol.PeerEvent{PeerID: m.peerID, Username: m.username})
	for _, o := range s.hub.others(m.room, m.peerID) {
		o.enqueue(left)
	}
}

func (s *Server) handleMessage(m *member, env protocol.Envelope) {
	switch {
	case env.Kind.Forwarded():
		env.From = m.peerID

		var targets []*member
		if env.To != "" {
			if t := s.hub.get(m.room, env.To); t != nil {
				targets = append(targets, t)
			}
		} else {
			targets = s.hub.others(m.room, m.peerID)
		}

		if len(targets) == 0 {
			s.logger.Debugf("No recipient for %s from %s", env.Kind, m.peerID)
			s.sendError(m, fmt.Sprintf("no peer to receive %s", env.Kind))
			return
		}
		for _, t := range targets {
			if !t.enqueue(env) {
				s.logger.Warnf("Dropped %s for %s: send queue full", env.Kind, t.peerID)
			}
		}
	case env.Kind == protocol.KindJoin:
		s.sendError(m, "already joined")
	default:
		s.logger.Warnf("Unhandled envelope kind %s from %s", env.Kind, m.peerID)
	}
}

func (s *Server) sendError(m *member, msg string) {
	env, err := protocol.NewEnvelope(protocol.KindError, protocol.ErrorMessage{Message: msg})
	if err == nil {
		m.enqueue(env)
	}
}

func (s *Server) reject(conn signaling.Conn, cause error) {
	env, err := protocol.NewEnvelope(protocol.KindError, protocol.ErrorMessage{Message: cause.Error()})
	if err != nil {
		return
	}
	_ = conn.WriteEnvelope(env, time.Now().Add(writeTimeout))
}
