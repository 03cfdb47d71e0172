package device

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/clusterctl/internal/command"
)

type SessionState int32

const (
	NotConnected SessionState = iota
	HandshakeInProgress
	SecurelyConnected
)

func (s SessionState) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case HandshakeInProgress:
		return "handshake_in_progress"
	case SecurelyConnected:
		return "securely_connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handle is the provider-owned session state for one device. State is
// published atomically by the session goroutine and may be read without the
// stack guard.
type Handle struct {
	entry        Entry
	writeTimeout time.Duration

	state     atomic.Int32
	sessionID atomic.Uint64

	mu      sync.Mutex
	conn    net.Conn
	lastErr error
}

var _ command.Device = (*Handle)(nil)

func newHandle(entry Entry, writeTimeout time.Duration) *Handle {
	return &Handle{entry: entry, writeTimeout: writeTimeout}
}

func (h *Handle) NodeID() uint64 { return h.entry.NodeID }

func (h *Handle) Address() string { return h.entry.Address }

func (h *Handle) State() SessionState { return SessionState(h.state.Load()) }

func (h *Handle) IsHandshakeInProgress() bool { return h.State() == HandshakeInProgress }

func (h *Handle) IsSecurelyConnected() bool { return h.State() == SecurelyConnected }

func (h *Handle) SessionID() uint64 { return h.sessionID.Load() }

// LastError is the error that ended the most recent session attempt.
func (h *Handle) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Transmit writes one encoded frame. Writes are serialised per handle.
func (h *Handle) Transmit(raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.State() != SecurelyConnected {
		return fmt.Errorf("%w: node %s state=%s", ErrNotConnected, command.FormatNodeID(h.NodeID()), h.State())
	}
	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := h.conn.Write(raw)
	return err
}

// beginHandshake moves NotConnected to HandshakeInProgress. Reports false if
// a session is already starting or up.
func (h *Handle) beginHandshake() bool {
	return h.state.CompareAndSwap(int32(NotConnected), int32(HandshakeInProgress))
}

func (h *Handle) attach(conn net.Conn, sessionID uint64) {
	h.mu.Lock()
	h.conn = conn
	h.lastErr = nil
	h.mu.Unlock()
	h.sessionID.Store(sessionID)
	h.state.Store(int32(SecurelyConnected))
}

// detach drops conn if it is still the active one and records why.
func (h *Handle) detach(conn net.Conn, cause error) {
	h.mu.Lock()
	if conn == nil || h.conn == conn {
		h.conn = nil
		h.lastErr = cause
	}
	h.mu.Unlock()
	h.sessionID.Store(0)
	h.state.Store(int32(NotConnected))
}

func (h *Handle) closeConn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		_ = h.conn.Close()
	}
}
