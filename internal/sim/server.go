package sim

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/config"
	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/schema"
	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Server accepts controller sessions for one simulated Device.
type Server struct {
	cfg     config.DeviceConfig
	session session.Config
	delays  config.Delays
	clk     clock.Clock
	device  *Device

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	sessionSeq atomic.Uint64
	reportSeq  atomic.Uint64
	active     atomic.Int64
	appeared   time.Time
}

func NewServer(cfg config.DeviceConfig, clk clock.Clock) (*Server, error) {
	if err := config.ValidateDeviceConfig(cfg); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real()
	}
	sess, err := cfg.SessionSettings()
	if err != nil {
		return nil, err
	}
	delays, err := cfg.Delays()
	if err != nil {
		return nil, err
	}
	dev, err := NewDevice(cfg, clk)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		session:  sess,
		delays:   delays,
		clk:      clk,
		device:   dev,
		conns:    make(map[net.Conn]struct{}),
		appeared: clk.Now(),
	}, nil
}

func (s *Server) Device() *Device { return s.device }

// ActiveSessions counts connections past the establish handshake.
func (s *Server) ActiveSessions() int64 { return s.active.Load() }

// Listen opens the session listener, TCP or TLS per the session config.
func (s *Server) Listen() (net.Listener, error) {
	if !s.session.TLS.Enabled {
		return net.Listen("tcp", s.cfg.Listen)
	}
	tlsCfg, err := s.session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.Listen, tlsCfg)
}

// Serve accepts sessions on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	log.Info().
		Str("name", s.cfg.Name).
		Str("local_node", command.FormatNodeID(s.device.NodeID())).
		Str("addr", ln.Addr().String()).
		Bool("tls", s.session.TLS.Enabled).
		Msg("sim listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()

	controllerIdentity, err := s.authenticate(conn)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("sim transport auth failed")
		return
	}

	reader := bufio.NewReader(conn)
	est, ack := s.handshake(conn, reader)
	if err := session.WriteEstablishAck(conn, ack); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("sim write establish ack failed")
		return
	}
	if !ack.Accepted() {
		log.Warn().
			Str("remote", remote).
			Uint32("code", ack.Code).
			Str("reason", ack.Message).
			Msg("sim session rejected")
		return
	}
	_ = conn.SetDeadline(time.Time{})

	active := s.active.Add(1)
	log.Info().
		Str("remote", remote).
		Str("remote_node", command.FormatNodeID(est.LocalNodeID)).
		Str("controller_identity", controllerIdentity).
		Uint64("session_id", ack.SessionID).
		Int64("active_sessions", active).
		Msg("sim session established")
	defer func() {
		remaining := s.active.Add(-1)
		log.Info().Str("remote", remote).Int64("active_sessions", remaining).Msg("sim session closed")
	}()

	for {
		if s.session.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.session.ReadTimeout))
		}
		fr, err := session.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			return
		}
		if fr.Header.MessageType != schema.MsgInvokeRequest {
			log.Warn().
				Str("remote", remote).
				Str("message", schema.MessageName(fr.Header.MessageType)).
				Msg("sim unexpected message")
			return
		}
		req, err := session.DecodeInvokeRequestFrame(fr)
		if err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("sim decode invoke failed")
			return
		}
		if err := s.serveInvoke(conn, fr.Header.MessageID, req); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("sim write failed")
			return
		}
	}
}

func (s *Server) serveInvoke(conn net.Conn, messageID uint64, req session.InvokeRequest) error {
	out := s.device.Invoke(req)
	if s.delays.Response > 0 {
		s.clk.Sleep(s.delays.Response)
	}
	if s.cfg.DropResponses {
		log.Debug().Uint64("exchange_id", req.ExchangeID).Msg("sim response dropped")
		return nil
	}
	raw, err := session.EncodeInvokeResponseFrame(messageID, session.InvokeResponse{
		ExchangeID:      req.ExchangeID,
		SourceNode:      s.device.NodeID(),
		DestinationNode: req.SourceNode,
		Status:          out.Status,
		Message:         out.Message,
	})
	if err != nil {
		return err
	}
	if err := s.write(conn, raw); err != nil {
		return err
	}
	if out.Report == nil {
		return nil
	}
	raw, err = session.EncodeStatusReportFrame(s.reportSeq.Add(1), *out.Report)
	if err != nil {
		return err
	}
	return s.write(conn, raw)
}

func (s *Server) write(conn net.Conn, raw []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.session.WriteTimeout))
	_, err := conn.Write(raw)
	return err
}

// handshake reads the establish line and decides the ack.
func (s *Server) handshake(conn net.Conn, reader *bufio.Reader) (session.Establish, session.EstablishAck) {
	_ = conn.SetDeadline(time.Now().Add(s.session.HandshakeTimeout + s.delays.Handshake))
	now := uint64(s.clk.Now().UnixMilli())
	reject := func(code uint32, msg string) session.EstablishAck {
		return session.EstablishAck{
			Status:      session.AckStatusRejected,
			Code:        code,
			Message:     msg,
			TimestampMS: now,
		}
	}

	est, err := session.ReadEstablish(reader)
	if err != nil {
		log.Warn().Err(err).Msg("sim read establish failed")
		return est, reject(session.CodeNodeMismatch, "invalid establish payload")
	}
	if s.delays.Handshake > 0 {
		s.clk.Sleep(s.delays.Handshake)
	}
	if est.RemoteNodeID != s.device.NodeID() {
		return est, reject(session.CodeNodeMismatch, "remote node id does not match device")
	}
	if want := strings.TrimSpace(s.cfg.PeerIdentity); want != "" && est.PeerIdentity != "" && est.PeerIdentity != want {
		return est, reject(session.CodeIdentityMismatch, "peer identity mismatch")
	}
	if slices.Contains(s.cfg.RejectControllers, est.LocalNodeID) {
		return est, reject(session.CodePeerBlocked, "controller blocked")
	}
	return est, session.EstablishAck{
		Status:      session.AckStatusAccepted,
		SessionID:   s.sessionSeq.Add(1),
		TimestampMS: uint64(s.clk.Now().UnixMilli()),
	}
}

// authenticate completes the TLS handshake when enabled and returns the
// controller's certificate identity, if one was presented.
func (s *Server) authenticate(conn net.Conn) (string, error) {
	mode := session.NormalizeSecurityMode(s.session.SecurityMode)
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		if mode == session.SecurityModeProduction {
			return "", session.ErrTLSRequired
		}
		return "", nil
	}
	_ = conn.SetDeadline(time.Now().Add(s.session.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return "", err
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		if s.session.TLS.Mutual {
			return "", session.ErrMTLSRequired
		}
		return "", nil
	}
	return session.PeerIdentityFromCert(state.PeerCertificates[0]), nil
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
