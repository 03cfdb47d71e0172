package device

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/danmuck/clusterctl/internal/stack"
	"github.com/rs/zerolog/log"
)

// Config configures session establishment toward paired devices.
type Config struct {
	LocalNodeID uint64
	Session     session.Config
	Limits      frame.Limits
	Clock       clock.Clock
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// Handlers receive session traffic. Both run as loop tasks with the stack
// guard held.
type Handlers struct {
	OnFrame      func(nodeID uint64, f frame.Frame)
	OnDisconnect func(nodeID uint64, cause error)
}

// Provider resolves paired devices to live handles, starting a background
// session on first use.
type Provider struct {
	cfg      Config
	fabric   *Fabric
	loop     *stack.Loop
	handlers Handlers

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	rng    *rand.Rand
	rngMu  sync.Mutex

	mu      sync.Mutex
	handles map[uint64]*Handle
	closed  bool
}

var _ command.DeviceProvider = (*Provider)(nil)

func NewProvider(cfg Config, fabric *Fabric, loop *stack.Loop, handlers Handlers) (*Provider, error) {
	if cfg.LocalNodeID == 0 {
		return nil, fmt.Errorf("%w: local node", ErrZeroNodeID)
	}
	if fabric == nil || loop == nil {
		return nil, errors.New("device: fabric and loop are required")
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:      cfg,
		fabric:   fabric,
		loop:     loop,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		handles:  make(map[uint64]*Handle),
	}, nil
}

// ResolveDevice returns the handle for a paired node. A NotConnected handle
// is moved to HandshakeInProgress and a session attempt starts in the
// background; callers poll the handle for the outcome.
func (p *Provider) ResolveDevice(nodeID uint64) (command.Device, error) {
	entry, ok := p.fabric.Lookup(nodeID)
	if !ok {
		log.Warn().
			Str("local_node", command.FormatNodeID(p.cfg.LocalNodeID)).
			Str("remote_node", command.FormatNodeID(nodeID)).
			Msg("device.Provider unknown node")
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, command.FormatNodeID(nodeID))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	h, ok := p.handles[nodeID]
	if !ok {
		h = newHandle(entry, p.cfg.Session.WriteTimeout)
		p.handles[nodeID] = h
	}
	if h.beginHandshake() {
		p.wg.Add(1)
		go p.runSession(h)
	}
	return h, nil
}

// Handle returns the existing handle for nodeID without starting a session.
func (p *Provider) Handle(nodeID uint64) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[nodeID]
	return h, ok
}

// Close stops all sessions and waits for their goroutines.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	p.cancel()
	for _, h := range handles {
		h.closeConn()
	}
	p.wg.Wait()
	return nil
}

func (p *Provider) runSession(h *Handle) {
	defer p.wg.Done()
	logger := log.With().
		Str("local_node", command.FormatNodeID(p.cfg.LocalNodeID)).
		Str("remote_node", command.FormatNodeID(h.NodeID())).
		Str("address", h.Address()).
		Logger()

	conn, reader, ack, err := p.connect(h.entry)
	if err != nil {
		logger.Warn().Err(err).Msg("device.Provider session failed")
		h.detach(nil, err)
		return
	}
	h.attach(conn, ack.SessionID)
	logger.Info().Uint64("session_id", ack.SessionID).Msg("device.Provider session established")

	err = p.readLoop(h, conn, reader)
	h.detach(conn, err)
	_ = conn.Close()
	if p.ctx.Err() == nil {
		logger.Warn().Err(err).Msg("device.Provider session lost")
	}
	if p.handlers.OnDisconnect != nil {
		nodeID := h.NodeID()
		if postErr := p.loop.Post(func() { p.handlers.OnDisconnect(nodeID, err) }); postErr != nil {
			logger.Debug().Err(postErr).Msg("device.Provider disconnect not delivered")
		}
	}
}

// connect dials with backoff until an establish ack is accepted, the
// attempt budget runs out, or the device rejects the session.
func (p *Provider) connect(entry Entry) (net.Conn, *bufio.Reader, session.EstablishAck, error) {
	attempt := 0
	for {
		attempt++
		conn, err := p.dial(entry)
		if err == nil {
			var reader *bufio.Reader
			var ack session.EstablishAck
			reader, ack, err = p.establish(conn, entry)
			if err == nil {
				return conn, reader, ack, nil
			}
			_ = conn.Close()
		}
		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Str("remote_node", command.FormatNodeID(entry.NodeID)).
			Msg("device.Provider connect attempt failed")

		if errors.Is(err, ErrEstablishRefused) || errors.Is(err, ErrPeerMismatch) ||
			!session.RetryAllowed(p.cfg.Session.MaxConnectAttempts, attempt) {
			return nil, nil, session.EstablishAck{}, err
		}
		if err := p.sleepBackoff(attempt); err != nil {
			return nil, nil, session.EstablishAck{}, err
		}
	}
}

func (p *Provider) dial(entry Entry) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(p.ctx, "tcp", entry.Address)
	if err != nil {
		return nil, err
	}
	if !p.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := p.cfg.Session.ClientTLSConfig(entry.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	if entry.PeerIdentity != "" {
		state := conn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: no peer certificate", ErrPeerMismatch)
		}
		if got := session.PeerIdentityFromCert(state.PeerCertificates[0]); got != entry.PeerIdentity {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: got %q want %q", ErrPeerMismatch, got, entry.PeerIdentity)
		}
	}
	return conn, nil
}

func (p *Provider) establish(conn net.Conn, entry Entry) (*bufio.Reader, session.EstablishAck, error) {
	_ = conn.SetDeadline(time.Now().Add(p.cfg.Session.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	err := session.WriteEstablish(conn, session.Establish{
		LocalNodeID:  p.cfg.LocalNodeID,
		RemoteNodeID: entry.NodeID,
		PeerIdentity: entry.PeerIdentity,
	})
	if err != nil {
		return nil, session.EstablishAck{}, err
	}
	ack, err := session.ReadEstablishAck(reader)
	if err != nil {
		return nil, session.EstablishAck{}, err
	}
	if !ack.Accepted() {
		return nil, ack, fmt.Errorf("%w: code=%d message=%q", ErrEstablishRefused, ack.Code, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})
	return reader, ack, nil
}

func (p *Provider) readLoop(h *Handle, conn net.Conn, reader *bufio.Reader) error {
	nodeID := h.NodeID()
	for {
		if p.cfg.Session.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(p.cfg.Session.ReadTimeout))
		}
		f, err := frame.ReadFrame(reader, p.cfg.Limits)
		if err != nil {
			return err
		}
		if p.handlers.OnFrame == nil {
			continue
		}
		if err := p.loop.Post(func() { p.handlers.OnFrame(nodeID, f) }); err != nil {
			return err
		}
	}
}

func (p *Provider) sleepBackoff(attempt int) error {
	p.rngMu.Lock()
	delay := session.NextBackoffDelay(p.cfg.Session.Backoff, attempt, p.rng)
	p.rngMu.Unlock()
	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-p.cfg.Clock.After(delay):
		return nil
	}
}
